package token

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var CopyCmd = &cobra.Command{
	Use:           "copy",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Copy the api token to the clipboard",
	Args:          cobra.NoArgs,
	RunE:          runCopy,
}

func runCopy(cmd *cobra.Command, args []string) error {
	_, tok, err := load()
	if err != nil {
		return err
	}
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard available, use 'profilebridge token show --reveal'")
	}
	if err := clipboard.WriteAll(tok); err != nil {
		return fmt.Errorf("failed to copy token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token copied to clipboard")
	return nil
}
