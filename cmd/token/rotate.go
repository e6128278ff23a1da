package token

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var (
	rotateForce bool

	RotateCmd = &cobra.Command{
		Use:           "rotate",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Replace the api token",
		Long: `
Usage: profilebridge token rotate [flags]

  Generates a new api token and overwrites the token file. The browser
  extension must be given the new token, and a running server keeps
  accepting the old one until it is restarted.

  Use the -f/--force flag to skip the confirmation prompt.
`,
		Args: cobra.NoArgs,
		RunE: runRotate,
	}
)

func init() {
	RotateCmd.Flags().BoolVarP(&rotateForce, "force", "f", false, "Skip confirmation prompt")
}

func runRotate(cmd *cobra.Command, args []string) error {
	if !rotateForce {
		ok, err := helpers.Confirm("Replace the api token? The extension will need the new one")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Rotation cancelled")
			return nil
		}
	}

	m, err := manager()
	if err != nil {
		return err
	}
	tok, err := m.Rotate()
	if err != nil {
		return fmt.Errorf("error rotating token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "New token written to %s: %s\n", m.Path(), helpers.MaskToken(tok))
	if conf, err := helpers.LoadConfig(); err == nil {
		if _, err := helpers.ServerProcess(conf.PidFile); err == nil {
			fmt.Fprintln(out, "Restart the server to apply it: profilebridge server restart")
		}
	}
	return nil
}
