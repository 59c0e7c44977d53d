package queue

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/capflow/pkg/batch"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/metrics"
)

// MetricsQueue wraps a Queue with Prometheus metrics collection.
type MetricsQueue struct {
	*Queue
	registry *metrics.Registry
}

// NewWithMetrics creates a queue with metrics recorded on a private registry.
func NewWithMetrics(config Config) (BatchQueue, error) {
	// A separate registry per component avoids duplicate registration.
	return NewWithConfigAndMetrics(config, metrics.Config{
		Enabled:  true,
		Registry: prometheus.NewRegistry(),
	})
}

// NewWithConfigAndMetrics creates a queue with custom config and metrics.
// When metrics are disabled the plain queue is returned.
func NewWithConfigAndMetrics(config Config, metricsConfig metrics.Config) (BatchQueue, error) {
	registry := metricsConfig.Resolve()
	if registry == nil {
		return NewWithConfig(config)
	}

	name := config.Name
	if name == "" {
		name = "queue"
	}

	mq := &MetricsQueue{registry: registry}

	if config.Handler != nil {
		config.Handler = &metricsHandler{inner: config.Handler, mq: mq}
	}

	onScale := config.OnScale
	config.OnScale = func(from, to int) {
		direction := "up"
		if to < from {
			direction = "down"
		}
		registry.QueueScaleEvents.WithLabelValues(name, direction).Inc()
		registry.QueueWorkers.WithLabelValues(name).Set(float64(to))
		if onScale != nil {
			onScale(from, to)
		}
	}

	q, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	mq.Queue = q
	mq.updateGauges()
	return mq, nil
}

// Submit records the submission outcome.
func (mq *MetricsQueue) Submit(item batch.Item) (*Ticket, error) {
	t, err := mq.Queue.Submit(item)

	outcome := "queued"
	switch {
	case errors.Is(err, cferrors.ErrQueueFull):
		outcome = "rejected"
	case err != nil:
		outcome = "closed"
	case t.Worker() != nil:
		outcome = "assigned"
	}
	mq.registry.QueueSubmissions.WithLabelValues(mq.Name(), outcome).Inc()
	mq.updateGauges()

	return t, err
}

// SetWorkerCount resizes the roster and refreshes the gauges.
func (mq *MetricsQueue) SetWorkerCount(n int) {
	mq.Queue.SetWorkerCount(n)
	mq.updateGauges()
}

// Registry exposes the metrics registry backing this queue.
func (mq *MetricsQueue) Registry() *metrics.Registry {
	return mq.registry
}

func (mq *MetricsQueue) updateGauges() {
	s := mq.Queue.Stats()
	mq.registry.QueueBacklog.WithLabelValues(s.Name).Set(float64(s.Backlog))
	mq.registry.QueueWorkers.WithLabelValues(s.Name).Set(float64(s.Workers))
	mq.registry.QueueBusy.WithLabelValues(s.Name).Set(float64(s.Busy))
}

// metricsHandler records every assignment before delegating.
type metricsHandler struct {
	inner Handler
	mq    *MetricsQueue
}

func (h *metricsHandler) HandleBatch(ctx context.Context, b *batch.Batch) error {
	name := h.mq.Name()
	h.mq.registry.QueueAssignments.WithLabelValues(name).Inc()
	h.mq.registry.QueueBatchSize.WithLabelValues(name).Observe(float64(b.Len()))
	h.mq.updateGauges()

	err := h.inner.HandleBatch(ctx, b)

	h.mq.updateGauges()
	return err
}

var _ BatchQueue = (*MetricsQueue)(nil)
var _ BatchQueue = (*Queue)(nil)
