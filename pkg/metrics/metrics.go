package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every capflow metric.
const DefaultNamespace = "capflow"

// Registry holds all metric instances for capflow components.
type Registry struct {
	// Capacity Metrics
	CapacityRequested *prometheus.CounterVec
	CapacityGranted   *prometheus.CounterVec
	CapacityDenied    *prometheus.CounterVec
	CapacityUsed      *prometheus.GaugeVec
	CapacityResets    *prometheus.CounterVec
	CapacityLatency   *prometheus.HistogramVec

	// Queue Metrics
	QueueSubmissions *prometheus.CounterVec
	QueueBacklog     *prometheus.GaugeVec
	QueueWorkers     *prometheus.GaugeVec
	QueueBusy        *prometheus.GaugeVec
	QueueAssignments *prometheus.CounterVec
	QueueBatchSize   *prometheus.HistogramVec
	QueueScaleEvents *prometheus.CounterVec

	// Writer Metrics
	WriterRetries *prometheus.CounterVec
	WriterBatches *prometheus.CounterVec

	// Scheduler Metrics
	SchedulerRuns     *prometheus.CounterVec
	SchedulerFailures *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by capflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

// NewRegistryFromConfig creates a registry honoring the registerer and
// namespace in cfg. Constant labels are applied through a wrapping registerer.
func NewRegistryFromConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(cfg.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(cfg.Labels, reg)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return newRegistry(reg, ns)
}

func newRegistry(reg prometheus.Registerer, ns string) *Registry {
	factory := registrar{reg}

	return &Registry{
		CapacityRequested: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "requested_units_total",
				Help:      "Total capacity units requested from a resource",
			},
			[]string{"resource"},
		),

		CapacityGranted: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "granted_units_total",
				Help:      "Total capacity units granted by a resource",
			},
			[]string{"resource"},
		),

		CapacityDenied: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "denied_total",
				Help:      "Total requests not fully granted, by reason",
			},
			[]string{"resource", "reason"},
		),

		CapacityUsed: factory.gaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "used_units",
				Help:      "Units consumed in the current window",
			},
			[]string{"resource"},
		),

		CapacityResets: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "resets_total",
				Help:      "Total capacity window resets",
			},
			[]string{"resource"},
		),

		CapacityLatency: factory.histogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "capacity",
				Name:      "call_duration_seconds",
				Help:      "Duration of calls against a capacity limited resource",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource"},
		),

		QueueSubmissions: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "submissions_total",
				Help:      "Total submissions by outcome (assigned, queued, rejected)",
			},
			[]string{"queue", "outcome"},
		),

		QueueBacklog: factory.gaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "backlog",
				Help:      "Items waiting in the backlog",
			},
			[]string{"queue"},
		),

		QueueWorkers: factory.gaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "workers",
				Help:      "Workers in the roster",
			},
			[]string{"queue"},
		),

		QueueBusy: factory.gaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "busy_workers",
				Help:      "Workers currently driving a batch",
			},
			[]string{"queue"},
		),

		QueueAssignments: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "assignments_total",
				Help:      "Total batches assigned to workers",
			},
			[]string{"queue"},
		),

		QueueBatchSize: factory.histogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "batch_size",
				Help:      "Number of items per assigned batch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"queue"},
		),

		QueueScaleEvents: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "queue",
				Name:      "scale_events_total",
				Help:      "Total roster changes by direction",
			},
			[]string{"queue", "direction"},
		),

		WriterRetries: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "writer",
				Name:      "retries_total",
				Help:      "Total sub-batch retries after partial or insufficient capacity",
			},
			[]string{"writer"},
		),

		WriterBatches: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "writer",
				Name:      "batches_total",
				Help:      "Total batches written by outcome",
			},
			[]string{"writer", "outcome"},
		),

		SchedulerRuns: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Total scheduled task executions",
			},
			[]string{"scheduler", "task"},
		),

		SchedulerFailures: factory.counterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "scheduler",
				Name:      "failures_total",
				Help:      "Total scheduled task executions that returned an error or panicked",
			},
			[]string{"scheduler", "task"},
		),
	}
}

// registrar registers collectors, handing back the existing collector when
// an identical one is already registered. Components that share a
// Registerer therefore share the same vectors.
type registrar struct {
	reg prometheus.Registerer
}

func (r registrar) register(c prometheus.Collector) prometheus.Collector {
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (r registrar) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return r.register(prometheus.NewCounterVec(opts, labels)).(*prometheus.CounterVec)
}

func (r registrar) gaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return r.register(prometheus.NewGaugeVec(opts, labels)).(*prometheus.GaugeVec)
}

func (r registrar) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return r.register(prometheus.NewHistogramVec(opts, labels)).(*prometheus.HistogramVec)
}
