package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	tu "github.com/vnykmshr/capflow/internal/testutil"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/metrics"
)

const tick = 10 * time.Millisecond

func newManual(t *testing.T, cfg Config) (Scheduler, *tu.ManualClock) {
	t.Helper()
	clk := tu.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg.Clock = clk
	cfg.TickInterval = tick
	cfg.Location = time.UTC
	s := NewWithConfig(cfg)
	tu.AssertNoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop() })
	return s, clk
}

func counter(n *int64) TaskFunc {
	return func(ctx context.Context) error {
		atomic.AddInt64(n, 1)
		return nil
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New()
	noop := func(ctx context.Context) error { return nil }

	tests := []struct {
		name string
		err  error
	}{
		{"empty id", s.ScheduleAfter("", noop, time.Second)},
		{"nil task", s.ScheduleAfter("a", nil, time.Second)},
		{"zero runAt", s.Schedule("a", noop, time.Time{})},
		{"zero interval", s.ScheduleRepeating("a", noop, 0)},
		{"bad cron", s.ScheduleCron("a", "not a cron", noop)},
		{"empty cron", s.ScheduleCron("a", "", noop)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !cferrors.IsValidationError(tt.err) {
				t.Fatalf("expected validation error, got %v", tt.err)
			}
		})
	}
}

func TestScheduleDuplicateAndLimit(t *testing.T) {
	s := NewWithConfig(Config{MaxTasks: 2})
	noop := func(ctx context.Context) error { return nil }

	tu.AssertNoError(t, s.ScheduleAfter("a", noop, time.Hour))
	tu.AssertError(t, s.ScheduleAfter("a", noop, time.Hour))
	tu.AssertNoError(t, s.ScheduleAfter("b", noop, time.Hour))
	tu.AssertError(t, s.ScheduleAfter("c", noop, time.Hour))

	tu.AssertEqual(t, true, s.Cancel("a"))
	tu.AssertEqual(t, false, s.Cancel("a"))
	tu.AssertNoError(t, s.ScheduleAfter("c", noop, time.Hour))

	s.CancelAll()
	tu.AssertEqual(t, 0, len(s.List()))
}

func TestOneTimeTask(t *testing.T) {
	s, clk := newManual(t, Config{})
	var runs int64

	tu.AssertNoError(t, s.ScheduleAfter("once", counter(&runs), time.Second))

	clk.Advance(500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	tu.AssertEqual(t, int64(0), atomic.LoadInt64(&runs))

	clk.Advance(500 * time.Millisecond)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&runs) == 1 }, time.Second, time.Millisecond)

	// One-time tasks leave the schedule after firing.
	tu.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, time.Millisecond)
}

func TestRepeatingTaskAligned(t *testing.T) {
	s, clk := newManual(t, Config{})
	start := clk.Now()
	var runs int64

	tu.AssertNoError(t, s.ScheduleRepeating("reset", counter(&runs), time.Second))

	tasks := s.List()
	tu.AssertEqual(t, 1, len(tasks))
	tu.AssertEqual(t, start.Add(time.Second), tasks[0].RunAt)

	for i := 1; i <= 3; i++ {
		clk.Advance(time.Second)
		want := int64(i)
		tu.Eventually(t, func() bool { return atomic.LoadInt64(&runs) == want }, time.Second, time.Millisecond)
	}

	tu.Eventually(t, func() bool {
		return s.List()[0].RunAt.Equal(start.Add(4 * time.Second))
	}, time.Second, time.Millisecond)
}

func TestRepeatingSkipsMissedPeriods(t *testing.T) {
	s, clk := newManual(t, Config{})
	start := clk.Now()
	var runs int64

	tu.AssertNoError(t, s.ScheduleRepeating("reset", counter(&runs), time.Second))

	clk.Advance(3500 * time.Millisecond)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&runs) == 1 }, time.Second, time.Millisecond)
	tu.Eventually(t, func() bool {
		return s.List()[0].RunAt.Equal(start.Add(4 * time.Second))
	}, time.Second, time.Millisecond)
}

func TestOverlappingRunSkipped(t *testing.T) {
	s, clk := newManual(t, Config{})
	release := make(chan struct{})
	var started int64

	tu.AssertNoError(t, s.ScheduleRepeating("slow", func(ctx context.Context) error {
		atomic.AddInt64(&started, 1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, time.Second))

	clk.Advance(time.Second)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&started) == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	tu.AssertEqual(t, int64(1), atomic.LoadInt64(&started))

	close(release)
	tu.Eventually(t, func() bool { return s.List()[0].Runs == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Second)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&started) == 2 }, time.Second, time.Millisecond)
}

func TestCronTask(t *testing.T) {
	s, clk := newManual(t, Config{})
	var runs int64

	tu.AssertNoError(t, s.ScheduleCron("stats", "@every 2s", counter(&runs)))
	tu.AssertEqual(t, "@every 2s", s.List()[0].Cron)

	clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	tu.AssertEqual(t, int64(0), atomic.LoadInt64(&runs))

	clk.Advance(time.Second)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&runs) == 1 }, time.Second, time.Millisecond)
}

func TestFailureAndPanicRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, clk := newManual(t, Config{
		Name:    "ops",
		Metrics: metrics.Config{Enabled: true, Registry: reg},
	})

	tu.AssertNoError(t, s.ScheduleAfter("fails", func(ctx context.Context) error {
		return errors.New("boom")
	}, time.Second))
	tu.AssertNoError(t, s.ScheduleRepeating("panics", func(ctx context.Context) error {
		panic("kaboom")
	}, time.Second))

	clk.Advance(time.Second)

	tu.Eventually(t, func() bool {
		tasks := s.List()
		return len(tasks) == 1 && tasks[0].Failures == 1
	}, time.Second, time.Millisecond)

	task := s.List()[0]
	tu.AssertEqual(t, "panics", task.ID)
	tu.AssertEqual(t, "task panicked: kaboom", task.LastError)

	tu.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "capflow_scheduler_failures_total")
		return err == nil && n == 2
	}, time.Second, time.Millisecond)
}

func TestStopCancelsRunningTasks(t *testing.T) {
	clk := tu.NewManualClock(time.Time{})
	s := NewWithConfig(Config{Clock: clk, TickInterval: tick})
	tu.AssertNoError(t, s.Start())
	tu.AssertError(t, s.Start())

	started := make(chan struct{})
	var canceled int64
	tu.AssertNoError(t, s.ScheduleAfter("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		atomic.StoreInt64(&canceled, 1)
		return ctx.Err()
	}, time.Second))

	clk.Advance(time.Second)
	<-started

	select {
	case <-s.Stop():
	case <-time.After(tu.TestTimeout):
		t.Fatal("stop did not complete")
	}
	tu.AssertEqual(t, int64(1), atomic.LoadInt64(&canceled))

	// Stop on a stopped scheduler returns a closed channel.
	<-s.Stop()
}

func TestRestart(t *testing.T) {
	clk := tu.NewManualClock(time.Time{})
	s := NewWithConfig(Config{Clock: clk, TickInterval: tick})
	var runs int64

	tu.AssertNoError(t, s.ScheduleRepeating("r", counter(&runs), time.Second))
	tu.AssertNoError(t, s.Start())
	<-s.Stop()

	tu.AssertEqual(t, 1, len(s.List()))
	tu.AssertNoError(t, s.Start())
	defer func() { <-s.Stop() }()

	clk.Advance(time.Second)
	tu.Eventually(t, func() bool { return atomic.LoadInt64(&runs) == 1 }, time.Second, time.Millisecond)
}

func TestTaskTimeout(t *testing.T) {
	s := NewWithConfig(Config{TickInterval: 5 * time.Millisecond, TaskTimeout: 20 * time.Millisecond})
	tu.AssertNoError(t, s.Start())
	defer func() { <-s.Stop() }()

	done := make(chan error, 1)
	tu.AssertNoError(t, s.ScheduleAfter("t", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}, 0))

	select {
	case err := <-done:
		tu.AssertEqual(t, context.DeadlineExceeded, err)
	case <-time.After(tu.TestTimeout):
		t.Fatal("task did not time out")
	}
}
