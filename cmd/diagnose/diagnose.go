package diagnose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/broker"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/config"
)

const (
	statusOK   = "ok"
	statusWarn = "warn"
	statusFail = "fail"
)

var (
	DiagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Troubleshoot the local setup of the bridge",
	}

	HealthCmd = &cobra.Command{
		Use:           "health",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Check the AWS files, api token and server",
		Long: `
Usage: profilebridge diagnose health

  Runs a series of local checks on the AWS files, SSO cache, api token and
  server health. The command fails when any check fails.
`,
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	DiagnoseCmd.AddCommand(HealthCmd)
}

type check struct {
	Name   string
	Status string
	Detail string
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}

	b, err := helpers.Broker()
	if err != nil {
		return err
	}
	defer b.Close()

	checks := []check{
		checkFile("credentials file", conf.AWS.CredentialsFile, true),
		checkFile("aws config file", conf.AWS.ConfigFile, false),
		checkProfiles(cmd.Context(), b),
		checkSSOCache(conf, b),
		checkToken(conf),
		checkServer(cmd.Context()),
	}

	rows := make([][]any, 0, len(checks))
	failed := 0
	for _, c := range checks {
		if c.Status == statusFail {
			failed++
		}
		rows = append(rows, []any{c.Name, c.Status, c.Detail})
	}
	helpers.PrintTable(cmd.OutOrStdout(), []string{"Check", "Status", "Detail"}, rows)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// checkFile warns about missing files, and about group or world access to
// files holding secrets.
func checkFile(name, path string, secret bool) check {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return check{name, statusWarn, path + " does not exist"}
	case err != nil:
		return check{name, statusFail, err.Error()}
	case secret && info.Mode().Perm()&0o077 != 0:
		return check{name, statusWarn, fmt.Sprintf("%s is readable by others (%s)", path, info.Mode().Perm())}
	default:
		return check{name, statusOK, path}
	}
}

func checkProfiles(ctx context.Context, b *broker.Broker) check {
	profiles, err := b.ListProfiles(ctx)
	if err != nil {
		return check{"profiles", statusFail, err.Error()}
	}
	if err := b.Validate(); err != nil {
		return check{"profiles", statusWarn, fmt.Sprintf("%d found, malformed sections skipped", len(profiles))}
	}
	if len(profiles) == 0 {
		return check{"profiles", statusWarn, "no profiles found"}
	}
	return check{"profiles", statusOK, fmt.Sprintf("%d found", len(profiles))}
}

func checkSSOCache(conf *config.Config, b *broker.Broker) check {
	if _, err := os.Stat(conf.AWS.SSOCacheDir); errors.Is(err, os.ErrNotExist) {
		return check{"sso cache", statusWarn, conf.AWS.SSOCacheDir + " does not exist"}
	}
	summaries, err := b.SSOCache()
	if err != nil {
		return check{"sso cache", statusFail, err.Error()}
	}
	valid := 0
	for _, s := range summaries {
		if s.Valid {
			valid++
		}
	}
	if valid == 0 && len(summaries) > 0 {
		return check{"sso cache", statusWarn, "no unexpired sso token, run aws sso login"}
	}
	return check{"sso cache", statusOK, fmt.Sprintf("%d file(s), %d unexpired", len(summaries), valid)}
}

func checkToken(conf *config.Config) check {
	tok, err := token.NewManager(token.ManagerConfig{Path: conf.Auth.TokenFile}).Load()
	switch {
	case errors.Is(err, token.ErrNoToken):
		return check{"api token", statusWarn, "not created yet, start the server"}
	case err != nil:
		return check{"api token", statusFail, err.Error()}
	case token.Classify(tok) == token.Legacy:
		return check{"api token", statusWarn, "legacy format, run profilebridge token rotate"}
	default:
		return check{"api token", statusOK, helpers.MaskToken(tok)}
	}
}

func checkServer(ctx context.Context) check {
	client, err := helpers.HealthClient()
	if err != nil {
		return check{"server", statusFail, err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		return check{"server", statusWarn, "not reachable at " + client.Address()}
	}
	return check{"server", statusOK, fmt.Sprintf("%s, version %s", health.Status, health.Version)}
}
