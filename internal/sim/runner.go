// Package sim wires a queue, a capacity limited resource and its writer into
// a runnable load simulation: producers submit groups of items, workers write
// them against the resource, and a scheduler resets the capacity window.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/capflow/internal/config"
	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/internal/server"
	"github.com/vnykmshr/capflow/pkg/capacity"
	"github.com/vnykmshr/capflow/pkg/clock"
	"github.com/vnykmshr/capflow/pkg/metrics"
	"github.com/vnykmshr/capflow/pkg/scheduling/queue"
	"github.com/vnykmshr/capflow/pkg/scheduling/scheduler"
)

// Task IDs registered on the runner's scheduler.
const (
	TaskResetWindow = "reset-window"
	TaskLogStats    = "log-stats"
)

// Options carries process-level collaborators that do not belong in the
// configuration file.
type Options struct {
	Logger *log.Logger

	// Registry collects every component's metrics. Defaults to a new registry.
	Registry *prometheus.Registry

	Clock   clock.Clock
	Version string

	// Redis overrides the client built from the redis config section.
	Redis redis.UniversalClient
}

// Report summarizes a finished run.
type Report struct {
	Totals
	Written       int64         `json:"written"`
	WriterRetries int64         `json:"writer_retries"`
	WindowResets  int64         `json:"window_resets"`
	Elapsed       time.Duration `json:"elapsed"`
	Queue         queue.Stats   `json:"queue"`
}

// Runner owns one assembled pipeline.
type Runner struct {
	cfg      *config.Config
	clock    clock.Clock
	logger   *log.Logger
	registry *prometheus.Registry

	resource capacity.Resource
	writer   *capacity.Writer
	queue    queue.BatchQueue
	sched    scheduler.Scheduler
	server   *server.Server

	redis     redis.UniversalClient
	ownsRedis bool
	window    *capacity.RedisWindow
}

// New assembles the pipeline described by cfg. It connects to Redis when
// cfg.Redis.Enabled is set.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		clock:    clock.OrSystem(opts.Clock),
		logger:   logging.Component(opts.Logger, "sim"),
		registry: opts.Registry,
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	mcfg := metrics.Config{Enabled: true, Registry: r.registry}

	var window capacity.Window
	if cfg.Redis.Enabled {
		client := opts.Redis
		if client == nil {
			client = redis.NewUniversalClient(&redis.UniversalOptions{
				Addrs:    []string{cfg.Redis.Addr},
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			r.ownsRedis = true
		}
		r.redis = client

		w, err := capacity.NewRedisWindow(ctx, capacity.RedisWindowConfig{
			Client:  client,
			Key:     cfg.Redis.Key,
			Max:     cfg.Capacity.PerInterval,
			Timeout: cfg.Redis.Timeout,
			TTL:     10 * cfg.Capacity.Interval,
		})
		if err != nil {
			r.closeRedis()
			return nil, err
		}
		r.window = w
		window = w
	}

	var latency capacity.Latency
	if cfg.Capacity.LatencyMean > 0 {
		latency = capacity.Normal{Mean: cfg.Capacity.LatencyMean, StdDev: cfg.Capacity.LatencyStdDev}
	}

	res, err := capacity.NewWithConfigAndMetrics(capacity.Config{
		Name:     cfg.Capacity.Name,
		Capacity: cfg.Capacity.PerInterval,
		Window:   window,
		Latency:  latency,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	}, mcfg)
	if err != nil {
		r.closeRedis()
		return nil, err
	}
	r.resource = res

	r.writer, err = capacity.NewWriterWithMetrics(res, capacity.WriterConfig{
		MaxBatch:    cfg.Writer.MaxBatch,
		Backoff:     cfg.Writer.Backoff,
		MaxBackoff:  cfg.Writer.MaxBackoff,
		MaxAttempts: cfg.Writer.MaxAttempts,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
	}, mcfg)
	if err != nil {
		r.closeRedis()
		return nil, err
	}

	r.queue, err = queue.NewWithConfigAndMetrics(queue.Config{
		Name:             cfg.Queue.Name,
		Capacity:         cfg.Queue.Capacity,
		BatchSize:        cfg.Queue.BatchSize,
		InitialWorkers:   cfg.Queue.InitialWorkers,
		ScaleUpThreshold: cfg.Queue.ScaleUpThreshold,
		ScaleUpCooldown:  cfg.Queue.ScaleUpCooldown,
		MaxWorkers:       cfg.Queue.MaxWorkers,
		ScaleDownIdle:    cfg.Queue.ScaleDownIdle,
		MinWorkers:       cfg.Queue.MinWorkers,
		Handler:          r.writer,
		Clock:            opts.Clock,
		Logger:           opts.Logger,
	}, mcfg)
	if err != nil {
		r.closeRedis()
		return nil, err
	}

	r.sched = scheduler.NewWithConfig(scheduler.Config{
		Name:         "sim",
		TickInterval: tickFor(cfg.Capacity.Interval),
		Clock:        opts.Clock,
		Logger:       opts.Logger,
		Metrics:      mcfg,
	})
	if err := r.scheduleTasks(); err != nil {
		<-r.queue.Shutdown()
		r.closeRedis()
		return nil, err
	}

	if cfg.Server.Enabled {
		r.server, err = server.New(server.Config{
			Addr:      cfg.Server.Addr,
			Version:   opts.Version,
			Queue:     r.queue,
			Resources: []capacity.Resource{res},
			Gatherer:  r.registry,
			Clock:     opts.Clock,
			Logger:    opts.Logger,
		})
		if err != nil {
			<-r.queue.Shutdown()
			r.closeRedis()
			return nil, err
		}
	}

	return r, nil
}

// tickFor keeps the scheduler loop well inside one capacity interval.
func tickFor(interval time.Duration) time.Duration {
	tick := interval / 20
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	if tick > 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	return tick
}

func (r *Runner) scheduleTasks() error {
	interval := r.cfg.Capacity.Interval
	reset := scheduler.BackoffTask{
		Task:         r.resource.ResetWindow,
		MaxRetries:   3,
		InitialDelay: interval / 10,
		MaxDelay:     interval / 2,
		Clock:        r.clock,
	}
	if err := r.sched.ScheduleRepeating(TaskResetWindow, reset.Run, interval); err != nil {
		return err
	}

	return r.sched.ScheduleCron(TaskLogStats, fmt.Sprintf("@every %s", r.cfg.Simulation.StatsInterval), func(ctx context.Context) error {
		r.logStats()
		return nil
	})
}

type statsLogger interface {
	LogStats()
}

func (r *Runner) logStats() {
	if sl, ok := r.queue.(statsLogger); ok {
		sl.LogStats()
	}
	used, err := r.resource.Used(context.Background())
	if err != nil {
		r.logger.Warn("reading capacity", "resource", r.resource.Name(), "err", err)
		return
	}
	r.logger.Info("capacity", "resource", r.resource.Name(), "used", used, "capacity", r.resource.Capacity(),
		"written", r.writer.Written(), "retries", r.writer.Retries())
}

// Queue returns the runner's queue.
func (r *Runner) Queue() queue.BatchQueue {
	return r.queue
}

// Registry returns the registry holding every component's metrics.
func (r *Runner) Registry() *prometheus.Registry {
	return r.registry
}

// Server returns the status server, or nil when it is disabled.
func (r *Runner) Server() *server.Server {
	return r.server
}

// Run produces the configured load, drains the queue and reports totals.
// Canceling ctx stops producers and cuts the drain short.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.clock.Now()

	if err := r.sched.Start(); err != nil {
		return nil, err
	}
	defer func() { <-r.sched.Stop() }()

	if r.server != nil {
		if err := r.server.Start(); err != nil {
			<-r.queue.ShutdownWithTimeout(0)
			return nil, err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.server.Shutdown(sctx)
		}()
	}

	pctx := ctx
	if d := r.cfg.Simulation.Duration; d > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	r.logger.Info("starting producers",
		"producers", r.cfg.Producer.Count,
		"groups", r.cfg.Producer.Groups,
		"group_size", r.cfg.Producer.GroupSize,
		"capacity", r.cfg.Capacity.PerInterval,
		"interval", r.cfg.Capacity.Interval,
	)

	tickets, totals, produceErr := Produce(pctx, r.queue, ProducerConfig{
		Count:      r.cfg.Producer.Count,
		Groups:     r.cfg.Producer.Groups,
		GroupSize:  r.cfg.Producer.GroupSize,
		Pause:      r.cfg.Producer.Pause,
		OnFull:     Policy(r.cfg.Producer.OnFull),
		RetryDelay: r.cfg.Producer.RetryDelay,
		Rate:       r.cfg.Producer.Rate,
		Burst:      r.cfg.Producer.Burst,
		Clock:      r.clock,
		Logger:     r.logger,
	})

	r.logger.Info("producers done, draining", "submitted", totals.Submitted, "dropped", totals.Dropped)

	drained := r.queue.ShutdownWithTimeout(r.cfg.Simulation.DrainTimeout)
	select {
	case <-drained:
	case <-ctx.Done():
		<-r.queue.ShutdownWithTimeout(0)
		<-drained
	}

	assigned, failed, err := Await(context.Background(), tickets)
	if err != nil {
		return nil, err
	}
	totals.Assigned = assigned
	totals.Failed = failed

	report := &Report{
		Totals:        totals,
		Written:       r.writer.Written(),
		WriterRetries: r.writer.Retries(),
		WindowResets:  r.resetRuns(),
		Elapsed:       r.clock.Now().Sub(start),
		Queue:         r.queue.Stats(),
	}

	r.logger.Info("run complete",
		"generated", report.Generated,
		"assigned", report.Assigned,
		"written", report.Written,
		"rejected", report.Rejected,
		"dropped", report.Dropped,
		"failed", report.Failed,
		"workers", report.Queue.Workers,
		"scale_ups", report.Queue.ScaleUps,
		"elapsed", report.Elapsed,
	)

	return report, produceErr
}

func (r *Runner) resetRuns() int64 {
	for _, t := range r.sched.List() {
		if t.ID == TaskResetWindow {
			return t.Runs
		}
	}
	return 0
}

// Close releases the Redis window and client the runner created.
func (r *Runner) Close(ctx context.Context) error {
	var err error
	if r.window != nil {
		err = r.window.Close(ctx)
	}
	r.closeRedis()
	return err
}

func (r *Runner) closeRedis() {
	if r.ownsRedis && r.redis != nil {
		_ = r.redis.Close()
		r.redis = nil
	}
}
