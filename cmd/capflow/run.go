package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/capflow/internal/sim"
)

// runFlags maps config keys to the run command's flags.
var runFlags = map[string]string{
	"queue.capacity":        "queue-capacity",
	"queue.batch_size":      "batch-size",
	"queue.initial_workers": "workers",
	"queue.max_workers":     "max-workers",
	"queue.scale_down_idle": "scale-down",
	"capacity.per_interval": "capacity",
	"capacity.interval":     "interval",
	"producer.count":        "producers",
	"producer.groups":       "groups",
	"producer.group_size":   "group-size",
	"producer.on_full":      "on-full",
	"producer.rate":         "rate",
	"simulation.duration":   "duration",
	"server.enabled":        "server",
	"server.addr":           "addr",
	"redis.enabled":         "redis",
	"redis.addr":            "redis-addr",
}

func newRunCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load simulation",
		Long: `Run starts the producers, the autoscaling queue and the capacity window
reset task, then drains the queue and prints a summary. Interrupting the run
stops the producers and cuts the drain short.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, runFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner, err := sim.New(ctx, a.config, sim.Options{
				Logger:  a.logger,
				Version: Version,
			})
			if err != nil {
				return err
			}
			defer func() { _ = runner.Close(context.Background()) }()

			report, err := runner.Run(ctx)
			if report != nil && asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.Int("queue-capacity", 0, "Backlog bound (0 = no backlog, -1 = unbounded)")
	f.Int("batch-size", 0, "Items handed to a worker at once")
	f.Int("workers", 0, "Initial worker count")
	f.Int("max-workers", 0, "Scale-up ceiling (0 = unbounded)")
	f.Bool("scale-down", false, "Let idle workers leave the pool")
	f.Int("capacity", 0, "Capacity units granted per interval")
	f.Duration("interval", 0, "Capacity window length")
	f.Int("producers", 0, "Concurrent producers")
	f.Int("groups", 0, "Groups emitted by each producer")
	f.Int("group-size", 0, "Items per group")
	f.String("on-full", "", "Policy for rejected items: retry or drop")
	f.Float64("rate", 0, "Submissions per second across producers (0 = unpaced)")
	f.Duration("duration", 0, "Stop producers after this long (0 = emit every group)")
	f.Bool("server", false, "Serve /health, /stats and /metrics")
	f.String("addr", "", "Status server listen address")
	f.Bool("redis", false, "Keep the capacity window in Redis")
	f.String("redis-addr", "", "Redis address")
	f.BoolVar(&asJSON, "json", false, "Print the run report as JSON")

	return cmd
}
