// Package integration contains integration tests that verify cross-package functionality.
// These tests ensure that different components work together correctly in realistic scenarios.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/internal/testutil"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/capacity"
	"github.com/vnykmshr/capflow/pkg/metrics"
	"github.com/vnykmshr/capflow/pkg/scheduling/queue"
	"github.com/vnykmshr/capflow/pkg/scheduling/scheduler"
)

// peakWindow records the highest used value seen in any interval.
type peakWindow struct {
	*capacity.MemoryWindow
	mu   sync.Mutex
	peak int
}

func (w *peakWindow) Reserve(ctx context.Context, n int) (int, error) {
	granted, err := w.MemoryWindow.Reserve(ctx, n)
	if err != nil {
		return granted, err
	}
	used, _ := w.MemoryWindow.Used(ctx)
	w.mu.Lock()
	if used > w.peak {
		w.peak = used
	}
	w.mu.Unlock()
	return granted, nil
}

func (w *peakWindow) Peak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}

// TestQueueWriterResourceConverges drives a backlog much larger than one
// capacity window through the queue and writer. Every item must be written
// exactly once, and no interval may exceed its budget.
func TestQueueWriterResourceConverges(t *testing.T) {
	const (
		budget   = 10
		items    = 100
		interval = 20 * time.Millisecond
	)

	window := &peakWindow{MemoryWindow: capacity.NewMemoryWindow(budget)}
	res, err := capacity.NewWithConfig(capacity.Config{
		Name:   "feed",
		Window: window,
		Logger: logging.Discard(),
	})
	testutil.AssertNoError(t, err)

	writer, err := capacity.NewWriter(res, capacity.WriterConfig{
		MaxBatch: 25,
		Backoff:  2 * time.Millisecond,
		Logger:   logging.Discard(),
	})
	testutil.AssertNoError(t, err)

	q, err := queue.NewWithConfig(queue.Config{
		Name:      "feed",
		Capacity:  -1,
		BatchSize: 25,
		Handler:   writer,
		Logger:    logging.Discard(),
	})
	testutil.AssertNoError(t, err)

	s := scheduler.NewWithConfig(scheduler.Config{TickInterval: time.Millisecond, Logger: logging.Discard()})
	testutil.AssertNoError(t, s.ScheduleRepeating("reset", res.ResetWindow, interval))
	testutil.AssertNoError(t, s.Start())
	defer func() { <-s.Stop() }()

	tickets := make([]*queue.Ticket, 0, items)
	for i := 0; i < items; i++ {
		tk, err := q.Submit(batch.Item{Key: "item", Payload: i})
		testutil.AssertNoError(t, err)
		tickets = append(tickets, tk)
	}

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	for _, tk := range tickets {
		_, err := tk.Wait(ctx)
		testutil.AssertNoError(t, err)
	}

	select {
	case <-q.Shutdown():
	case <-ctx.Done():
		t.Fatal("queue did not drain")
	}

	testutil.AssertEqual(t, writer.Written(), int64(items))
	if peak := window.Peak(); peak > budget {
		t.Fatalf("window peaked at %d, budget %d", peak, budget)
	}
	if res.Resets() < items/budget-1 {
		t.Fatalf("expected at least %d resets, got %d", items/budget-1, res.Resets())
	}
	if writer.Retries() == 0 {
		t.Fatal("expected partial grants to be retried")
	}
}

// TestQueueScalesUnderSustainedBacklog checks that a slow downstream keeps
// the backlog non-empty long enough for the queue to add workers, and that
// metrics from every component land in one shared registry.
func TestQueueScalesUnderSustainedBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}

	res, err := capacity.NewWithConfigAndMetrics(capacity.Config{
		Name:     "slow",
		Capacity: 1000,
		Latency:  capacity.Fixed(2 * time.Millisecond),
		Logger:   logging.Discard(),
	}, mcfg)
	testutil.AssertNoError(t, err)

	writer, err := capacity.NewWriterWithMetrics(res, capacity.WriterConfig{Logger: logging.Discard()}, mcfg)
	testutil.AssertNoError(t, err)

	q, err := queue.NewWithConfigAndMetrics(queue.Config{
		Name:            "slow",
		Capacity:        -1,
		BatchSize:       5,
		ScaleUpCooldown: 5 * time.Millisecond,
		MaxWorkers:      4,
		Handler:         writer,
		Logger:          logging.Discard(),
	}, mcfg)
	testutil.AssertNoError(t, err)

	for i := 0; i < 200; i++ {
		_, err := q.Submit(batch.Item{Payload: i})
		testutil.AssertNoError(t, err)
	}

	select {
	case <-q.Shutdown():
	case <-time.After(testutil.TestTimeout):
		t.Fatal("queue did not drain")
	}

	stats := q.Stats()
	if stats.ScaleUps == 0 {
		t.Fatal("expected at least one scale up")
	}
	if stats.Workers > 4 {
		t.Fatalf("workers %d exceed MaxWorkers", stats.Workers)
	}
	testutil.AssertEqual(t, writer.Written(), int64(200))

	for _, name := range []string{
		"capflow_queue_scale_events_total",
		"capflow_capacity_granted_units_total",
		"capflow_writer_batches_total",
	} {
		n, err := promtest.GatherAndCount(reg, name)
		testutil.AssertNoError(t, err)
		if n == 0 {
			t.Errorf("no series for %s", name)
		}
	}
}
