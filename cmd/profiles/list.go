package profiles

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/helper"
	"github.com/stephnangue/profilebridge/profile"
)

var (
	listSSO    bool
	listEnrich bool
	listCount  bool
	listFormat string

	ListCmd = &cobra.Command{
		Use:           "list",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "List profiles",
		Long: `
Usage: profilebridge profile list [flags]

  Lists the profiles of the AWS credentials and config files. The files are
  read directly unless --enrich is given, in which case the running server
  is asked for the SSO token state of each SSO profile.
`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
)

func init() {
	ListCmd.Flags().BoolVar(&listSSO, "sso", false, "Only list SSO profiles")
	ListCmd.Flags().BoolVar(&listEnrich, "enrich", false, "Ask the running server for SSO token state")
	ListCmd.Flags().BoolVar(&listCount, "count", false, "Only print the number of profiles")
	ListCmd.Flags().StringVarP(&listFormat, "format", "f", helpers.FormatTable, "Output format: table, json or yaml")
}

func runList(cmd *cobra.Command, args []string) error {
	if err := helpers.ValidateFormat(listFormat); err != nil {
		return err
	}

	profiles, err := fetchProfiles(cmd)
	if err != nil {
		return err
	}

	if listSSO {
		filtered := profiles[:0]
		for _, p := range profiles {
			if p.IsSSO {
				filtered = append(filtered, p)
			}
		}
		profiles = filtered
	}

	out := cmd.OutOrStdout()
	if listCount {
		fmt.Fprintln(out, len(profiles))
		return nil
	}
	if listFormat != helpers.FormatTable {
		return helpers.PrintStructured(out, listFormat, profiles)
	}
	printProfiles(out, profiles, time.Now())
	return nil
}

func fetchProfiles(cmd *cobra.Command) ([]profile.Profile, error) {
	if listEnrich {
		c, err := helpers.Client()
		if err != nil {
			return nil, err
		}
		profiles, err := c.EnrichProfiles(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("error enriching profiles: %w", err)
		}
		return profiles, nil
	}

	b, err := helpers.Broker()
	if err != nil {
		return nil, err
	}
	defer b.Close()
	profiles, err := b.ListProfiles(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("error listing profiles: %w", err)
	}
	return profiles, nil
}

func printProfiles(w io.Writer, profiles []profile.Profile, now time.Time) {
	rows := make([][]any, 0, len(profiles))
	for _, p := range profiles {
		kind := "static"
		if p.IsSSO {
			kind = "sso"
		}
		rows = append(rows, []any{p.Name, kind, credentialState(p, now), p.Region, p.Color})
	}
	helpers.PrintTable(w, []string{"Name", "Type", "Credentials", "Region", "Color"}, rows)
}

func credentialState(p profile.Profile, now time.Time) string {
	switch {
	case p.Expired:
		return "expired"
	case !p.HasCredentials:
		return "missing"
	case p.Expiration != nil:
		return "valid for " + helper.FormatTTL(p.Expiration.Sub(now))
	default:
		return "valid"
	}
}
