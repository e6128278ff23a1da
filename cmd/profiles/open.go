package profiles

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/api"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var (
	openRegion string
	openCopy   bool

	OpenCmd = &cobra.Command{
		Use:           "open <name>",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Get a console sign-in link for a profile",
		Long: `
Usage: profilebridge profile open <name> [flags]

  Asks the running server for a federated console sign-in link. The link
  carries a session token; treat it like a password.
`,
		Args: cobra.ExactArgs(1),
		RunE: runOpen,
	}
)

func init() {
	OpenCmd.Flags().StringVar(&openRegion, "region", "", "Console region")
	OpenCmd.Flags().BoolVar(&openCopy, "copy", false, "Copy the link to the clipboard instead of printing it")
}

func runOpen(cmd *cobra.Command, args []string) error {
	c, err := helpers.Client()
	if err != nil {
		return err
	}

	resp, err := c.ConsoleURL(cmd.Context(), args[0], openRegion)
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.NeedsLogin() {
		return fmt.Errorf("the SSO session of %s has expired, run: aws sso login --profile %s", args[0], args[0])
	}
	if err != nil {
		return err
	}

	if openCopy {
		if err := clipboard.WriteAll(resp.URL); err != nil {
			return fmt.Errorf("failed to copy link: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Console link for %s copied to clipboard\n", resp.ProfileName)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.URL)
	return nil
}
