package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd creates the root zonectl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "zonectl",
		Short:         "Gray Logic zone controllers and state enforcers",
		Long:          "zonectl runs presence driven lighting controllers and state enforcers\nfor a Gray Logic site, bridged to the building over MQTT.",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("configuration file (default $%s or %s)", configEnv, defaultConfigPath))
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(),
		newTokenCmd(opts),
		newDBCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

func versionString() string {
	return fmt.Sprintf("zonectl %s (commit %s, built %s)", version, commit, date)
}

// newVersionCmd creates the "zonectl version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}
