// Package metrics provides Prometheus instrumentation for capflow components.
//
// Components expose metrics-enabled constructors that decorate the plain
// implementation:
//
//	res, _ := capacity.NewWithMetrics(100, "downstream")
//	q, _ := queue.NewWithConfigAndMetrics(cfg, "ingest", metrics.Config{
//		Enabled:  true,
//		Registry: reg,
//	})
//
// Then expose metrics via HTTP, either with promhttp directly or through
// the internal server's /metrics route.
//
// # Available Metrics
//
// ## Capacity
//
//   - capflow_capacity_requested_units_total
//   - capflow_capacity_granted_units_total
//   - capflow_capacity_denied_total{reason="partial|insufficient"}
//   - capflow_capacity_used_units
//   - capflow_capacity_resets_total
//   - capflow_capacity_call_duration_seconds
//
// ## Queue
//
//   - capflow_queue_submissions_total{outcome="assigned|queued|rejected"}
//   - capflow_queue_backlog
//   - capflow_queue_workers
//   - capflow_queue_busy_workers
//   - capflow_queue_assignments_total
//   - capflow_queue_batch_size
//   - capflow_queue_scale_events_total{direction="up|down"}
//
// ## Writer and Scheduler
//
//   - capflow_writer_retries_total
//   - capflow_writer_batches_total{outcome="ok|error"}
//   - capflow_scheduler_runs_total
//   - capflow_scheduler_failures_total
//
// Components resolved against the same registerer share its vectors, so a
// single prometheus.Registry can back a whole pipeline. Tests use a fresh
// registry each to keep counts independent.
package metrics
