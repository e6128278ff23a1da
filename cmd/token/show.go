package token

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var (
	showReveal bool

	ShowCmd = &cobra.Command{
		Use:           "show",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Show the api token",
		Long: `
Usage: profilebridge token show [flags]

  Prints the api token masked, with its file and format. Use --reveal to
  print it in full.
`,
		Args: cobra.NoArgs,
		RunE: runShow,
	}
)

func init() {
	ShowCmd.Flags().BoolVar(&showReveal, "reveal", false, "Print the full token")
}

func runShow(cmd *cobra.Command, args []string) error {
	m, tok, err := load()
	if err != nil {
		return err
	}

	shown := helpers.MaskToken(tok)
	if showReveal {
		shown = tok
	}

	helpers.PrintMapAsTable(cmd.OutOrStdout(), map[string]any{
		"token":  shown,
		"file":   m.Path(),
		"format": token.Classify(tok).String(),
	})
	if token.Classify(tok) == token.Legacy {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nThis token uses the legacy format. Run 'profilebridge token rotate' to upgrade it.")
	}
	return nil
}
