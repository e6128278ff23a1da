package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	bridgeconfig "github.com/stephnangue/profilebridge/config"
	"github.com/stephnangue/profilebridge/helper"
)

const formatHCL = "hcl"

var (
	resetForce bool
	showFormat string

	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the bridge configuration",
		Long: `
The config command groups subcommands for the HCL configuration file.
Without a file, built-in defaults apply.

Examples:

  Print the effective configuration:

    $ profilebridge config show

  Write the defaults to the configuration file:

    $ profilebridge config reset
`,
	}

	ShowCmd = &cobra.Command{
		Use:           "show",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Print the effective configuration",
		Args:          cobra.NoArgs,
		RunE:          runShow,
	}

	PathCmd = &cobra.Command{
		Use:           "path",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Print the configuration file location",
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (not present, using defaults)\n", path)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	ResetCmd = &cobra.Command{
		Use:           "reset",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Overwrite the configuration file with the defaults",
		Long: `
Usage: profilebridge config reset [flags]

  Writes the default configuration to the configuration file, replacing
  any existing content. The api token file is left alone.

  Use the -f/--force flag to skip the confirmation prompt.
`,
		Args: cobra.NoArgs,
		RunE: runReset,
	}
)

func init() {
	ResetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	ShowCmd.Flags().StringVarP(&showFormat, "format", "o", formatHCL, "Output format: hcl, json or yaml")

	ConfigCmd.AddCommand(ShowCmd)
	ConfigCmd.AddCommand(PathCmd)
	ConfigCmd.AddCommand(ResetCmd)
}

// configPath resolves the file the CLI reads, in flag, environment,
// default order.
func configPath() string {
	path := helpers.ConfigPath
	if path == "" {
		path = os.Getenv(bridgeconfig.EnvConfigPath)
	}
	if path == "" {
		path = bridgeconfig.DefaultConfigPath
	}
	return helper.ExpandPath(path)
}

func runShow(cmd *cobra.Command, args []string) error {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if showFormat == formatHCL {
		_, err = out.Write(conf.Render())
		return err
	}
	if err := helpers.ValidateFormat(showFormat); err != nil || showFormat == helpers.FormatTable {
		return fmt.Errorf("unsupported format %q (expected hcl, json or yaml)", showFormat)
	}
	return helpers.PrintStructured(out, showFormat, conf)
}

func runReset(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil && !resetForce {
		ok, err := helpers.Confirm(fmt.Sprintf("Overwrite %s with the defaults", path))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled")
			return nil
		}
	}

	if err := bridgeconfig.Default().WriteFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
	return nil
}
