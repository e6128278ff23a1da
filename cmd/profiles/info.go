package profiles

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var (
	infoFormat string

	InfoCmd = &cobra.Command{
		Use:           "info <name>",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Show one profile",
		Args:          cobra.ExactArgs(1),
		RunE:          runInfo,
	}
)

func init() {
	InfoCmd.Flags().StringVarP(&infoFormat, "format", "f", helpers.FormatTable, "Output format: table, json or yaml")
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := helpers.ValidateFormat(infoFormat); err != nil {
		return err
	}
	b, err := helpers.Broker()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := b.Profile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if infoFormat != helpers.FormatTable {
		return helpers.PrintStructured(out, infoFormat, p)
	}

	rows := map[string]any{
		"name":        p.Name,
		"sso":         p.IsSSO,
		"credentials": credentialState(p, time.Now()),
		"color":       p.Color,
		"icon":        p.Icon,
	}
	if p.Region != "" {
		rows["region"] = p.Region
	}
	if p.Expiration != nil {
		rows["expiration"] = p.Expiration.Format(time.RFC3339)
	}
	if p.IsSSO {
		rows["sso_start_url"] = p.SSOStartURL
		rows["sso_region"] = p.SSORegion
		rows["sso_account_id"] = p.SSOAccountID
		rows["sso_role_name"] = p.SSORoleName
		if p.SSOSession != "" {
			rows["sso_session"] = p.SSOSession
		}
	}
	helpers.PrintMapAsTable(out, rows)
	if p.IsSSO && p.HasStaticCredentials {
		fmt.Fprintln(out, "\nStatic keys in the credentials file take precedence over SSO for this profile.")
	}
	return nil
}
