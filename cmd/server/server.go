package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/auth"
	"github.com/stephnangue/profilebridge/auth/ratelimit"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/broker"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/config"
	bridgehttp "github.com/stephnangue/profilebridge/http"
	"github.com/stephnangue/profilebridge/listener"
	"github.com/stephnangue/profilebridge/listener/api"
	log "github.com/stephnangue/profilebridge/logger"
	"github.com/stephnangue/profilebridge/version"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Subsystem names for logging
	subsystemBroker   = "broker"
	subsystemListener = "listener"

	listenerShutdownTimeout = 5 * time.Second
	listenerReadyTimeout    = 5 * time.Second
)

var (
	flagForeground bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Manage the local profile bridge server",
		Long: `
Usage: profilebridge server <subcommand> [options]

  The server exposes the AWS profiles of this machine to the browser
  extension on a loopback address. Start it in the background with:

      $ profilebridge server start

  or keep it attached to the terminal with:

      $ profilebridge server start --foreground
  `,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagForeground {
				return run(cmd)
			}
			return startBackground(cmd)
		},
	}
)

func init() {
	startCmd.Flags().BoolVar(&flagForeground, "foreground", false, "Run in the foreground instead of detaching")

	ServerCmd.AddCommand(startCmd)
	ServerCmd.AddCommand(stopCmd)
	ServerCmd.AddCommand(statusCmd)
	ServerCmd.AddCommand(restartCmd)
	ServerCmd.AddCommand(logsCmd)
}

func run(cmd *cobra.Command) error {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if p, err := helpers.ServerProcess(conf.PidFile); err == nil && int(p.Pid) != os.Getpid() {
		return fmt.Errorf("server is already running with pid %d", p.Pid)
	}

	// construct the logger with gate closed during initialization
	logger := buildGatedLogger(conf)

	tokens := token.NewManager(token.ManagerConfig{
		Path:   conf.Auth.TokenFile,
		Logger: logger,
	})
	if _, err := tokens.LoadOrCreate(); err != nil {
		return fmt.Errorf("failed to prepare the api token: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxAttempts: conf.Auth.RateLimitMaxAttempts,
		Window:      conf.Auth.RateLimitWindow,
		MaxTracked:  conf.Auth.RateLimitMaxTracked,
	})

	b, err := broker.NewBroker(&broker.BrokerConfig{
		RawConfig: conf,
		Logger:    logger.WithSubsystem(subsystemBroker),
	})
	if err != nil {
		return fmt.Errorf("error initializing broker: %w", err)
	}
	defer b.Close()

	if err := b.Validate(); err != nil {
		fmt.Fprintf(out, "Profile files have problems, continuing: %v\n", err)
	}

	httpHandler, err := bridgehttp.Handler(&bridgehttp.HandlerProperties{
		Broker:              b,
		Authenticator:       auth.NewAuthenticator(tokens, limiter, logger),
		Logger:              logger,
		AllowedOrigins:      conf.CORS.AllowedOrigins,
		AllowedExtensionIDs: conf.CORS.AllowedExtensionIDs,
		StartTime:           time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to build http handler: %w", err)
	}

	lns, err := initListeners(httpHandler, conf, logger)
	if err != nil {
		return err
	}

	info := serverInfo(conf)
	infoKeys := make([]string, 0, len(info))
	for k := range info {
		infoKeys = append(infoKeys, k)
	}
	sort.Strings(infoKeys)

	var shutdownErrs []error
	var shutdownErrsMu sync.Mutex
	var cleanupGuard sync.Once

	listenerCloseFunc := func() {
		fmt.Fprintf(out, "Stopping all listeners\n")
		for _, ln := range lns {
			if err := ln.Stop(); err != nil {
				shutdownErrsMu.Lock()
				shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
				shutdownErrsMu.Unlock()
			}
		}
	}
	defer cleanupGuard.Do(listenerCloseFunc)

	fmt.Fprintf(out, "\n==> Profile bridge configuration:\n\n")
	titleCaser := cases.Title(language.English, cases.NoLower)
	for _, k := range infoKeys {
		fmt.Fprintf(out, "%24s: %s\n", titleCaser.String(k), info[k])
	}

	// Use context from cobra command which respects signal interrupts
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(lns))
	for _, ln := range lns {
		wg.Go(func() {
			if err := ln.Start(ctx); err != nil {
				errChan <- err
			}
		})
	}

	if err := waitReady(ctx, lns, errChan); err != nil {
		cancel()
		cleanupGuard.Do(listenerCloseFunc)
		wg.Wait()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	// Write out the PID to the file now that server has successfully started
	if err := helpers.WritePIDFile(conf.PidFile); err != nil {
		fmt.Fprintf(out, "Could not write pid file: %v\n", err)
	}
	defer helpers.RemovePIDFile(conf.PidFile)

	fmt.Fprintf(out, "\n==> Profile bridge started on %s! Log data will stream in below:\n", lns[0].Addr())
	logger.OpenGate()

	var listenerErrs []error
	for shutdownTriggered := false; !shutdownTriggered; {
		select {
		case err := <-errChan:
			listenerErrs = append(listenerErrs, err)
			logger.Error("listener failed",
				log.Err(err),
				log.Int("failed_count", len(listenerErrs)),
				log.Int("total_listeners", len(lns)))
			// Only shut down once every listener has failed
			if len(listenerErrs) >= len(lns) {
				shutdownTriggered = true
			}
		case <-ctx.Done():
			logger.Info("shutdown triggered")
			shutdownTriggered = true
		}
	}
	cancel()

	cleanupGuard.Do(listenerCloseFunc)
	wg.Wait()

	close(errChan)
	for err := range errChan {
		listenerErrs = append(listenerErrs, err)
	}
	if len(listenerErrs) > 0 {
		fmt.Fprintf(out, "Listener errors occurred during runtime: %v\n", errors.Join(listenerErrs...))
	}

	if len(shutdownErrs) > 0 {
		aggregatedShutdownErr := errors.Join(shutdownErrs...)
		fmt.Fprintf(out, "Shutdown completed with errors: %v\n", aggregatedShutdownErr)
		return aggregatedShutdownErr
	}

	fmt.Fprintf(out, "Server shutdown completed successfully\n")
	return nil
}

// waitReady blocks until every listener is bound.
func waitReady(ctx context.Context, lns []listener.Listener, errChan <-chan error) error {
	timer := time.NewTimer(listenerReadyTimeout)
	defer timer.Stop()
	for _, ln := range lns {
		select {
		case <-ln.Ready():
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("listener %s not ready after %s", ln.Type(), listenerReadyTimeout)
		}
	}
	return nil
}

func initListeners(h http.Handler, conf *config.Config, logger *log.GatedLogger) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(conf.Listeners))
	for _, block := range conf.Listeners {
		if block.Type != config.ListenerTypeTCP {
			return nil, fmt.Errorf("unknown listener type: %s", block.Type)
		}
		ln, err := api.NewApiListener(api.ApiListenerConfig{
			Logger:          logger.WithSubsystem(subsystemListener),
			Address:         block.Address,
			ShutdownTimeout: listenerShutdownTimeout,
		}, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create listener at %s: %w", block.Address, err)
		}
		lns = append(lns, ln)
	}
	return lns, nil
}

func serverInfo(conf *config.Config) map[string]string {
	source := conf.Source
	if source == "" {
		source = "(defaults)"
	}
	return map[string]string{
		"version":              version.String(),
		"config file":          source,
		"api address":          conf.APIAddress(),
		"api token file":       conf.Auth.TokenFile,
		"log level":            conf.LogLevel,
		"log format":           conf.LogFormat,
		"log file":             conf.LogFile,
		"log rotate max files": fmt.Sprintf("%d", conf.LogRotateMaxFiles),
		"log rotate max size":  fmt.Sprintf("%d", conf.LogRotateMegabytes),
		"pid file":             conf.PidFile,
		"credentials file":     conf.AWS.CredentialsFile,
		"aws config file":      conf.AWS.ConfigFile,
		"sso cache":            conf.AWS.SSOCacheDir,
		"rate limit":           fmt.Sprintf("%d per %s", conf.Auth.RateLimitMaxAttempts, conf.Auth.RateLimitWindow),
	}
}

func buildGatedLogger(conf *config.Config) *log.GatedLogger {
	logConfig := &log.Config{
		Level:     log.ParseLogLevel(conf.LogLevel),
		Subsystem: subsystemBroker,
		FileConfig: &log.FileConfig{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogRotateMegabytes,
			MaxAge:     conf.LogRotationPeriod,
			MaxBackups: conf.LogRotateMaxFiles,
		},
		Format:       log.ParseOutputFormat(conf.LogFormat),
		Outputs:      []io.Writer{os.Stdout},
		EnableCaller: log.ParseLogLevel(conf.LogLevel) <= log.DebugLevel,
	}

	gateConfig := log.GatedWriterConfig{
		Underlying:    os.Stdout,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	gatedLogger, _ := log.NewGatedLogger(logConfig, gateConfig)
	return gatedLogger
}
