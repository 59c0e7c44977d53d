package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, time.Second, 10*time.Millisecond)
	})
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("context should have a deadline")
	}
	if time.Until(deadline) > TestTimeout {
		t.Errorf("deadline too far in the future: %v", deadline)
	}
}

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertEqual(t, 42, 42)
	AssertEqual(t, "capflow", "capflow")
	AssertNotEqual(t, 1, 2)
}

func TestManualClockAfter(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	ch := c.After(time.Second)
	AssertEqual(t, c.Waiters(), 1)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		AssertEqual(t, got, start.Add(time.Second))
	default:
		t.Fatal("timer should have fired")
	}
	AssertEqual(t, c.Waiters(), 0)
}

func TestManualClockZeroAfter(t *testing.T) {
	c := NewManualClock(time.Time{})
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestManualClockTicker(t *testing.T) {
	c := NewManualClock(time.Time{})
	ticker := c.NewTicker(time.Second)

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	// Missed periods collapse into one tick.
	c.Advance(5 * time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected a single tick")
	default:
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	AssertEqual(t, c.Waiters(), 0)
}
