package profiles

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var ValidateCmd = &cobra.Command{
	Use:           "validate",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Check the AWS credentials and config files for errors",
	Long: `
Usage: profilebridge profile validate

  Parses the credentials and config files and reports malformed sections.
  Malformed sections are skipped by the server, so this is the place to
  find out why a profile is missing from the list.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := helpers.Broker()
		if err != nil {
			return err
		}
		defer b.Close()

		paths := b.Paths()
		if err := b.Validate(); err != nil {
			return fmt.Errorf("profile files have errors:\n%w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s and %s are valid\n", paths.Credentials, paths.Config)
		return nil
	},
}
