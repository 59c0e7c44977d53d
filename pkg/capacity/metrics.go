package capacity

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/clock"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/metrics"
)

// MetricsResource wraps a Resource with Prometheus metrics collection.
type MetricsResource struct {
	Resource
	registry *metrics.Registry
	clock    clock.Clock
}

// NewWithMetrics creates a resource with metrics recorded on a private registry.
func NewWithMetrics(name string, capacity int) (Resource, error) {
	// A separate registry per component avoids duplicate registration.
	return NewWithConfigAndMetrics(Config{Name: name, Capacity: capacity}, metrics.Config{
		Enabled:  true,
		Registry: prometheus.NewRegistry(),
	})
}

// NewWithConfigAndMetrics creates a resource with custom config and metrics.
// When metrics are disabled the plain resource is returned.
func NewWithConfigAndMetrics(config Config, metricsConfig metrics.Config) (Resource, error) {
	res, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	return Instrument(res, metricsConfig), nil
}

// Instrument decorates any Resource. When metrics are disabled res is
// returned unchanged. Call durations are measured on res's clock when it
// exposes one, so simulated latency is recorded as simulated time.
func Instrument(res Resource, metricsConfig metrics.Config) Resource {
	registry := metricsConfig.Resolve()
	if registry == nil {
		return res
	}
	var c clock.Clock
	if cr, ok := res.(interface{ Clock() clock.Clock }); ok {
		c = cr.Clock()
	}
	return &MetricsResource{Resource: res, registry: registry, clock: clock.OrSystem(c)}
}

// PerformSingle records the request and its outcome.
func (m *MetricsResource) PerformSingle(ctx context.Context, item batch.Item) error {
	name := m.Name()
	start := m.clock.Now()

	m.registry.CapacityRequested.WithLabelValues(name).Inc()
	err := m.Resource.PerformSingle(ctx, item)

	switch {
	case errors.Is(err, cferrors.ErrInsufficientCapacity):
		m.registry.CapacityDenied.WithLabelValues(name, "insufficient").Inc()
	case err == nil:
		m.registry.CapacityGranted.WithLabelValues(name).Inc()
	}
	m.finish(ctx, name, start)
	return err
}

// PerformBatch records requested and granted units.
func (m *MetricsResource) PerformBatch(ctx context.Context, b *batch.Batch) error {
	name := m.Name()
	start := m.clock.Now()
	before := b.Fulfilled()

	m.registry.CapacityRequested.WithLabelValues(name).Add(float64(b.Remaining()))
	err := m.Resource.PerformBatch(ctx, b)

	if granted := b.Fulfilled() - before; granted > 0 {
		m.registry.CapacityGranted.WithLabelValues(name).Add(float64(granted))
	}
	switch {
	case errors.Is(err, cferrors.ErrPartialCapacity):
		m.registry.CapacityDenied.WithLabelValues(name, "partial").Inc()
	case errors.Is(err, cferrors.ErrInsufficientCapacity):
		m.registry.CapacityDenied.WithLabelValues(name, "insufficient").Inc()
	}
	m.finish(ctx, name, start)
	return err
}

// ResetWindow counts resets and zeroes the used gauge.
func (m *MetricsResource) ResetWindow(ctx context.Context) error {
	if err := m.Resource.ResetWindow(ctx); err != nil {
		return err
	}
	name := m.Name()
	m.registry.CapacityResets.WithLabelValues(name).Inc()
	m.registry.CapacityUsed.WithLabelValues(name).Set(0)
	return nil
}

func (m *MetricsResource) finish(ctx context.Context, name string, start time.Time) {
	m.registry.CapacityLatency.WithLabelValues(name).Observe(m.clock.Now().Sub(start).Seconds())
	if used, err := m.Resource.Used(ctx); err == nil {
		m.registry.CapacityUsed.WithLabelValues(name).Set(float64(used))
	}
}

// Registry exposes the metrics registry backing this resource.
func (m *MetricsResource) Registry() *metrics.Registry {
	return m.registry
}
