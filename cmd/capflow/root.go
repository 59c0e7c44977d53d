package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vnykmshr/capflow/internal/config"
	"github.com/vnykmshr/capflow/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

// app carries state shared by subcommands.
type app struct {
	cfgFile string
	viper   *viper.Viper
	config  *config.Config
	logger  *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "capflow",
		Short: "Capacity-aware autoscaling batch queue",
		Long: `capflow feeds items through an autoscaling batch queue into a
throughput-capped resource. Workers retry partially granted batches until the
capacity window resets, and the queue adds workers under sustained backlog.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Run the default simulation
  capflow run

  # Load settings from a file and override the batch size
  capflow run --config capflow.yaml --batch-size 10

  # Share the capacity window through Redis and serve /stats
  capflow run --redis --redis-addr localhost:6379 --server

  # Print the effective configuration
  CAPFLOW_QUEUE_MAX_WORKERS=8 capflow config`,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd())

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	return root
}

// load reads defaults, the config file, environment and the flags of cmd,
// in increasing precedence.
func (a *app) load(cmd *cobra.Command, keys map[string]string) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}

	if err := bindFlag(v, cmd.Flags(), "logging.level", "log-level"); err != nil {
		return err
	}
	for key, flag := range keys {
		if err := bindFlag(v, cmd.Flags(), key, flag); err != nil {
			return err
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	a.viper = v
	a.config = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.Logging.Level)
	logging.SetDefault(a.logger)
	return nil
}

// bindFlag makes an explicitly set flag override key. Unset flags leave the
// file and environment values alone.
func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) error {
	f := flags.Lookup(name)
	if f == nil {
		return fmt.Errorf("unknown flag %q for %s", name, key)
	}
	return v.BindPFlag(key, f)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "capflow %s\n", Version)
		},
	}
}
