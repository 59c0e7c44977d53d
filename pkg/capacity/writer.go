package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/clock"
	cfcontext "github.com/vnykmshr/capflow/pkg/common/context"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
	"github.com/vnykmshr/capflow/pkg/metrics"
)

// DefaultMaxBatch is the largest sub-batch a Writer sends in one round trip.
const DefaultMaxBatch = 25

// DefaultMaxWindowErrors is how many consecutive window store failures a
// sub-batch tolerates.
const DefaultMaxWindowErrors = 3

// DefaultBackoff is the pause between retries of a partially granted sub-batch.
const DefaultBackoff = 15 * time.Millisecond

// WriterConfig holds configuration for a Writer.
type WriterConfig struct {
	// Name identifies the writer in logs and metrics. Defaults to the
	// resource name.
	Name string

	// MaxBatch caps each round trip. Defaults to DefaultMaxBatch.
	MaxBatch int

	// Backoff is the first retry delay. Defaults to DefaultBackoff.
	Backoff time.Duration

	// MaxBackoff, when greater than Backoff, enables doubling delays
	// capped at this value. Otherwise the delay stays constant.
	MaxBackoff time.Duration

	// MaxAttempts bounds round trips per sub-batch. Zero retries until the
	// context is done.
	MaxAttempts int

	// MaxWindowErrors bounds consecutive ErrWindowUnavailable failures per
	// sub-batch, retried with the same backoff. Defaults to
	// DefaultMaxWindowErrors. Any other backend error ends the batch.
	MaxWindowErrors int

	Clock  clock.Clock
	Logger *log.Logger
}

// Writer drives batches to completion against a Resource.
type Writer struct {
	res      Resource
	config   WriterConfig
	clock    clock.Clock
	logger   *log.Logger
	registry *metrics.Registry

	retries atomic.Int64
	written atomic.Int64
}

// NewWriter creates a Writer for res.
func NewWriter(res Resource, config WriterConfig) (*Writer, error) {
	if res == nil {
		return nil, cferrors.NewValidationError("capacity", "Resource", nil, "cannot be nil").
			WithHint("pass the resource the writer drives")
	}
	if err := validation.ValidateNonNegative("capacity", "MaxBatch", config.MaxBatch); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("capacity", "MaxAttempts", config.MaxAttempts); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("capacity", "MaxWindowErrors", config.MaxWindowErrors); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("capacity", "Backoff", config.Backoff); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("capacity", "MaxBackoff", config.MaxBackoff); err != nil {
		return nil, err
	}

	if config.Name == "" {
		config.Name = res.Name()
	}
	if config.MaxBatch == 0 {
		config.MaxBatch = DefaultMaxBatch
	}
	if config.Backoff == 0 {
		config.Backoff = DefaultBackoff
	}
	if config.MaxWindowErrors == 0 {
		config.MaxWindowErrors = DefaultMaxWindowErrors
	}

	return &Writer{
		res:    res,
		config: config,
		clock:  clock.OrSystem(config.Clock),
		logger: logging.Component(config.Logger, "writer/"+config.Name),
	}, nil
}

// NewWriterWithMetrics creates a Writer that counts retries and batch outcomes.
func NewWriterWithMetrics(res Resource, config WriterConfig, metricsConfig metrics.Config) (*Writer, error) {
	w, err := NewWriter(res, config)
	if err != nil {
		return nil, err
	}
	w.registry = metricsConfig.Resolve()
	return w, nil
}

// HandleBatch writes every unfulfilled item of b, fulfilling b as
// sub-batches complete.
func (w *Writer) HandleBatch(ctx context.Context, b *batch.Batch) error {
	pending := b.Items()[b.Fulfilled():]
	err := w.write(ctx, pending, b)
	w.observe(err)
	return err
}

// Write drives items to completion.
func (w *Writer) Write(ctx context.Context, items []batch.Item) error {
	err := w.write(ctx, items, nil)
	w.observe(err)
	return err
}

func (w *Writer) write(ctx context.Context, items []batch.Item, parent *batch.Batch) error {
	for _, chunk := range batch.Split(items, w.config.MaxBatch) {
		sub := batch.New(chunk...)
		err := w.drive(ctx, sub)
		if parent != nil {
			parent.Fulfill(sub.Fulfilled())
		}
		w.written.Add(int64(sub.Fulfilled()))
		if err != nil {
			return err
		}
	}
	return nil
}

// drive retries one sub-batch until it completes, fails permanently, runs
// out of attempts or ctx is done.
func (w *Writer) drive(ctx context.Context, sub *batch.Batch) error {
	delay := w.config.Backoff
	windowErrs := 0
	for attempt := 1; ; attempt++ {
		err := w.res.PerformBatch(ctx, sub)
		if err == nil {
			return nil
		}
		switch {
		case errors.Is(err, cferrors.ErrWindowUnavailable):
			windowErrs++
			if windowErrs > w.config.MaxWindowErrors {
				return err
			}
			w.logger.Warn("capacity window unavailable, retrying", "failures", windowErrs, "err", err)
		case cferrors.IsRetryable(err):
			windowErrs = 0
		default:
			return err
		}
		if w.config.MaxAttempts > 0 && attempt >= w.config.MaxAttempts {
			return cferrors.NewOperationError("writer", "Write", err).
				WithContext(fmt.Sprintf("gave up after %d attempts with %d of %d units", attempt, sub.Fulfilled(), sub.Requested()))
		}

		w.retries.Add(1)
		if w.registry != nil {
			w.registry.WriterRetries.WithLabelValues(w.config.Name).Inc()
		}
		w.logger.Debug("retrying sub-batch", "fulfilled", sub.Fulfilled(), "requested", sub.Requested(), "delay", delay)

		if err := cfcontext.Sleep(ctx, w.clock, delay); err != nil {
			return err
		}
		delay = w.nextDelay(delay)
	}
}

func (w *Writer) nextDelay(d time.Duration) time.Duration {
	if w.config.MaxBackoff <= w.config.Backoff {
		return d
	}
	d *= 2
	if d > w.config.MaxBackoff {
		d = w.config.MaxBackoff
	}
	return d
}

func (w *Writer) observe(err error) {
	if w.registry == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	w.registry.WriterBatches.WithLabelValues(w.config.Name, outcome).Inc()
}

// Retries returns the number of retried round trips.
func (w *Writer) Retries() int64 {
	return w.retries.Load()
}

// Written returns the number of units granted to this writer.
func (w *Writer) Written() int64 {
	return w.written.Load()
}
