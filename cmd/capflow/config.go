package main

import (
	"github.com/spf13/cobra"

	"github.com/vnykmshr/capflow/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Config merges the defaults, the config file and CAPFLOW_* environment
variables, validates the result and prints it. The output is a valid config file.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Dump(cmd.OutOrStdout(), a.config)
		},
	}
}
