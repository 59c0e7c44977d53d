package capacity

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/clock"
	cfcontext "github.com/vnykmshr/capflow/pkg/common/context"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
)

// Resource is a downstream dependency with a fixed per-interval budget.
type Resource interface {
	// PerformSingle consumes one unit and waits one latency draw.
	// It returns ErrInsufficientCapacity, consuming nothing, when the
	// window is exhausted.
	PerformSingle(ctx context.Context, item batch.Item) error

	// PerformBatch grants min(remaining, available) units to b, advances
	// its fulfilled count and waits one latency draw. It returns
	// ErrPartialCapacity when b is still incomplete afterwards and
	// ErrInsufficientCapacity when nothing could be granted.
	PerformBatch(ctx context.Context, b *batch.Batch) error

	// ResetWindow sets used capacity back to zero.
	ResetWindow(ctx context.Context) error

	// Capacity returns the per-interval budget.
	Capacity() int

	// Used returns the units consumed in the current interval.
	Used(ctx context.Context) (int, error)

	// Available returns Capacity minus Used.
	Available(ctx context.Context) (int, error)

	// Name identifies the resource in logs and metrics.
	Name() string
}

// Config holds configuration for a capacity limited resource.
type Config struct {
	// Name identifies the resource. Defaults to "resource".
	Name string

	// Capacity is the number of units granted per interval. Required unless
	// Window is set, in which case it defaults to Window.Max().
	Capacity int

	// Window stores the used counter. Defaults to a MemoryWindow.
	Window Window

	// Latency is sampled once per granted round trip. Defaults to zero.
	Latency Latency

	// Clock drives latency waits. Defaults to the system clock.
	Clock clock.Clock

	// Logger receives debug output. Defaults to the process logger.
	Logger *log.Logger
}

// LimitedResource is the standard Resource implementation.
type LimitedResource struct {
	name    string
	window  Window
	latency Latency
	clock   clock.Clock
	logger  *log.Logger

	resets atomic.Int64
}

// New creates a resource with the given budget per interval.
func New(name string, capacity int) (*LimitedResource, error) {
	return NewWithConfig(Config{Name: name, Capacity: capacity})
}

// NewWithConfig creates a resource from config, applying defaults.
func NewWithConfig(config Config) (*LimitedResource, error) {
	if config.Window != nil {
		if config.Capacity == 0 {
			config.Capacity = config.Window.Max()
		}
		if config.Capacity != config.Window.Max() {
			return nil, cferrors.NewValidationError("capacity", "Capacity", config.Capacity,
				fmt.Sprintf("does not match window max %d", config.Window.Max())).
				WithHint("leave Capacity at 0 when supplying a Window")
		}
	}
	if err := validation.ValidatePositive("capacity", "Capacity", config.Capacity); err != nil {
		return nil, err
	}

	if config.Name == "" {
		config.Name = "resource"
	}
	if config.Window == nil {
		config.Window = NewMemoryWindow(config.Capacity)
	}
	if config.Latency == nil {
		config.Latency = Fixed(0)
	}

	return &LimitedResource{
		name:    config.Name,
		window:  config.Window,
		latency: config.Latency,
		clock:   clock.OrSystem(config.Clock),
		logger:  logging.Component(config.Logger, "capacity/"+config.Name),
	}, nil
}

// PerformSingle consumes one unit.
func (r *LimitedResource) PerformSingle(ctx context.Context, item batch.Item) error {
	granted, err := r.window.Reserve(ctx, 1)
	if err != nil {
		return err
	}
	if granted == 0 {
		return cferrors.NewOperationError("capacity", "PerformSingle", cferrors.ErrInsufficientCapacity).
			WithContext(fmt.Sprintf("%s: item %s", r.name, item.Key))
	}
	return r.wait(ctx)
}

// PerformBatch grants as much of the batch's remainder as the window allows.
func (r *LimitedResource) PerformBatch(ctx context.Context, b *batch.Batch) error {
	if b.Complete() {
		return nil
	}

	requested := b.Remaining()
	granted, err := r.window.Reserve(ctx, requested)
	if err != nil {
		return err
	}
	if granted == 0 {
		return cferrors.NewOperationError("capacity", "PerformBatch", cferrors.ErrInsufficientCapacity).
			WithContext(fmt.Sprintf("%s: 0 of %d units available", r.name, requested))
	}

	b.Fulfill(granted)
	if err := r.wait(ctx); err != nil {
		return err
	}

	if !b.Complete() {
		return cferrors.NewOperationError("capacity", "PerformBatch", cferrors.ErrPartialCapacity).
			WithContext(fmt.Sprintf("%s: granted %d of %d", r.name, granted, requested))
	}
	return nil
}

// Clock returns the clock driving latency waits.
func (r *LimitedResource) Clock() clock.Clock {
	return r.clock
}

// ResetWindow starts a new interval with zero used capacity.
func (r *LimitedResource) ResetWindow(ctx context.Context) error {
	if err := r.window.Reset(ctx); err != nil {
		return err
	}
	n := r.resets.Add(1)
	r.logger.Debug("window reset", "resets", n)
	return nil
}

// Capacity returns the per-interval budget.
func (r *LimitedResource) Capacity() int {
	return r.window.Max()
}

// Used returns the units consumed in the current interval.
func (r *LimitedResource) Used(ctx context.Context) (int, error) {
	return r.window.Used(ctx)
}

// Available returns the units left in the current interval.
func (r *LimitedResource) Available(ctx context.Context) (int, error) {
	used, err := r.window.Used(ctx)
	if err != nil {
		return 0, err
	}
	return r.window.Max() - used, nil
}

// Name returns the resource name.
func (r *LimitedResource) Name() string {
	return r.name
}

// Resets returns how many times the window has been reset by this resource.
func (r *LimitedResource) Resets() int64 {
	return r.resets.Load()
}

// wait sleeps one latency draw. Granted units are kept if ctx ends first.
func (r *LimitedResource) wait(ctx context.Context) error {
	d := r.latency.Sample()
	if d <= 0 {
		return nil
	}
	return cfcontext.Sleep(ctx, r.clock, d)
}
