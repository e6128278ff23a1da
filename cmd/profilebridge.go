package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/cache"
	"github.com/stephnangue/profilebridge/cmd/config"
	"github.com/stephnangue/profilebridge/cmd/diagnose"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/cmd/profiles"
	"github.com/stephnangue/profilebridge/cmd/server"
	"github.com/stephnangue/profilebridge/cmd/token"
	"github.com/stephnangue/profilebridge/version"
)

var rootCmd = &cobra.Command{
	Use:     "profilebridge",
	Short:   "Profile bridge serves local AWS profiles to a browser extension",
	Version: version.Version,
	Long: `Profile bridge reads the AWS CLI credentials and config files and exposes
the profiles they define to a browser extension over a loopback HTTP API.
It resolves static keys and AWS SSO sessions into console sign-in links
without ever handing the credentials themselves to the browser.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&helpers.ConfigPath, "config", "c", "", "Path to configuration file (can also use PROFILE_BRIDGE_CONFIG env var)")
	rootCmd.PersistentFlags().DurationVar(&helpers.ClientTimeout, "client-timeout", 0, "Timeout of each call to the server (can also use PROFILE_BRIDGE_CLIENT_TIMEOUT env var)")
	rootCmd.PersistentFlags().IntVar(&helpers.ClientRetries, "client-retries", -1, "Retries of failed calls to the server (can also use PROFILE_BRIDGE_MAX_RETRIES env var)")
	rootCmd.PersistentFlags().StringVar(&helpers.ClientRateLimit, "client-rate-limit", "", "Client-side rate limit as rate[:burst] (can also use PROFILE_BRIDGE_RATE_LIMIT env var)")

	rootCmd.AddCommand(server.ServerCmd)
	rootCmd.AddCommand(token.TokenCmd)
	rootCmd.AddCommand(profiles.ProfileCmd)
	rootCmd.AddCommand(config.ConfigCmd)
	rootCmd.AddCommand(cache.CacheCmd)
	rootCmd.AddCommand(diagnose.DiagnoseCmd)
}
