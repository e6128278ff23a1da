package profiles

import (
	"github.com/spf13/cobra"
)

var ProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect the AWS profiles the bridge serves",
	Long: `
The profile command groups subcommands for the profiles found in the AWS
credentials and config files.

Examples:

  List every profile:

    $ profilebridge profile list

  List SSO profiles with their token state, from the running server:

    $ profilebridge profile list --sso --enrich

  Check that a profile's credentials work:

    $ profilebridge profile test my-profile

  Print a console sign-in link:

    $ profilebridge profile open my-profile --region eu-west-1
`,
}

func init() {
	ProfileCmd.AddCommand(ListCmd)
	ProfileCmd.AddCommand(InfoCmd)
	ProfileCmd.AddCommand(ValidateCmd)
	ProfileCmd.AddCommand(TestCmd)
	ProfileCmd.AddCommand(OpenCmd)
}
