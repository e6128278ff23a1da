package cache

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/helper"
)

var (
	showFormat string

	CacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the AWS SSO token cache",
		Long: `
The cache command inspects the SSO token cache written by "aws sso login".
The bridge only reads this cache; log in again with the AWS CLI to refresh
an expired session.
`,
	}

	ShowCmd = &cobra.Command{
		Use:           "show",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "List the SSO cache files and their expiry",
		Args:          cobra.NoArgs,
		RunE:          runShow,
	}
)

func init() {
	ShowCmd.Flags().StringVarP(&showFormat, "format", "f", helpers.FormatTable, "Output format: table, json or yaml")
	CacheCmd.AddCommand(ShowCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := helpers.ValidateFormat(showFormat); err != nil {
		return err
	}
	b, err := helpers.Broker()
	if err != nil {
		return err
	}
	defer b.Close()

	summaries, err := b.SSOCache()
	if err != nil {
		return fmt.Errorf("error reading sso cache: %w", err)
	}

	out := cmd.OutOrStdout()
	if showFormat != helpers.FormatTable {
		return helpers.PrintStructured(out, showFormat, summaries)
	}

	now := time.Now()
	rows := make([][]any, 0, len(summaries))
	for _, s := range summaries {
		remaining := "-"
		if s.ExpiresAt != nil {
			remaining = helper.FormatTTL(s.ExpiresAt.Sub(now))
		}
		rows = append(rows, []any{s.File, s.Kind, s.StartURL, s.Region, remaining})
	}
	helpers.PrintTable(out, []string{"File", "Kind", "Start URL", "Region", "Expires In"}, rows)
	return nil
}
