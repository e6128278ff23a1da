package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	bridgeapi "github.com/stephnangue/profilebridge/api"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/config"
)

const (
	startTimeout = 10 * time.Second
	stopTimeout  = 10 * time.Second
)

var (
	flagStatusFormat string
	flagLogLines     int

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := helpers.LoadConfig()
			if err != nil {
				return err
			}
			stopped, err := stopServer(conf)
			if err != nil {
				return err
			}
			if !stopped {
				fmt.Fprintln(cmd.OutOrStdout(), "Server is not running")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
			return nil
		},
	}

	restartCmd = &cobra.Command{
		Use:   "restart",
		Short: "Restart the background server",
		Long: `
Usage: profilebridge server restart

  Stops the running server, if any, and starts a new one in the background.
  A rotated api token only takes effect after a restart.
  `,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := helpers.LoadConfig()
			if err != nil {
				return err
			}
			if _, err := stopServer(conf); err != nil {
				return err
			}
			return startBackground(cmd)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is running and healthy",
		Args:  cobra.NoArgs,
		RunE:  status,
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of the server log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := helpers.LoadConfig()
			if err != nil {
				return err
			}
			f, err := os.Open(conf.LogFile)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no log file at %s", conf.LogFile)
				}
				return err
			}
			defer f.Close()
			return tail(cmd.OutOrStdout(), f, flagLogLines)
		},
	}
)

func init() {
	statusCmd.Flags().StringVarP(&flagStatusFormat, "format", "f", helpers.FormatTable, "Output format: table, json or yaml")
	logsCmd.Flags().IntVarP(&flagLogLines, "lines", "n", 50, "Number of lines to show")
}

// startBackground re-executes the binary with --foreground and waits for
// the health endpoint to answer.
func startBackground(cmd *cobra.Command) error {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}
	if p, err := helpers.ServerProcess(conf.PidFile); err == nil {
		return fmt.Errorf("server is already running with pid %d", p.Pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	args := []string{"server", "start", "--foreground"}
	if helpers.ConfigPath != "" {
		args = append(args, "--config", helpers.ConfigPath)
	}

	// The server writes its own rotated log file.
	child := exec.Command(exe, args...)
	child.Env = os.Environ()
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	pid := child.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
	defer cancel()
	if _, err := waitHealthy(ctx, exited); err != nil {
		return fmt.Errorf("server did not become healthy, see %s: %w", conf.LogFile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server started with pid %d on %s\n", pid, conf.APIAddress())
	return nil
}

func waitHealthy(ctx context.Context, exited <-chan error) (*bridgeapi.HealthResponse, error) {
	client, err := helpers.HealthClient()
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if health, err := client.Health(ctx); err == nil {
			return health, nil
		}
		select {
		case err := <-exited:
			if err == nil {
				err = errors.New("server exited")
			}
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopServer reports whether a running server was stopped.
func stopServer(conf *config.Config) (bool, error) {
	p, err := helpers.ServerProcess(conf.PidFile)
	if errors.Is(err, helpers.ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := helpers.StopProcess(p, stopTimeout); err != nil {
		return false, err
	}
	return true, nil
}

type statusReport struct {
	Running bool                      `json:"running" yaml:"running"`
	Address string                    `json:"address" yaml:"address"`
	Process *helpers.ProcessInfo      `json:"process,omitempty" yaml:"process,omitempty"`
	Health  *bridgeapi.HealthResponse `json:"health,omitempty" yaml:"health,omitempty"`
}

func status(cmd *cobra.Command, args []string) error {
	if err := helpers.ValidateFormat(flagStatusFormat); err != nil {
		return err
	}
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}

	report := statusReport{Address: conf.APIAddress()}
	if p, err := helpers.ServerProcess(conf.PidFile); err == nil {
		info := helpers.DescribeProcess(p)
		report.Process = &info
	}
	if client, err := helpers.HealthClient(); err == nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		if health, err := client.Health(ctx); err == nil {
			report.Health = health
		}
	}
	report.Running = report.Health != nil

	out := cmd.OutOrStdout()
	if flagStatusFormat != helpers.FormatTable {
		if err := helpers.PrintStructured(out, flagStatusFormat, report); err != nil {
			return err
		}
	} else {
		rows := map[string]any{
			"Running": report.Running,
			"Address": report.Address,
		}
		if report.Process != nil {
			rows["PID"] = report.Process.PID
			rows["Uptime"] = report.Process.Uptime.String()
		}
		if report.Health != nil {
			rows["Status"] = report.Health.Status
			rows["Version"] = report.Health.Version
		}
		helpers.PrintMapAsTable(out, rows)
	}

	if !report.Running {
		return helpers.ErrNotRunning
	}
	return nil
}

// tail writes the last n lines of r.
func tail(w io.Writer, r io.Reader, n int) error {
	if n <= 0 {
		return nil
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return nil
}
