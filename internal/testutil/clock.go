package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/capflow/pkg/clock"
)

// ManualClock implements clock.Clock with time that only moves on Advance.
// Timers and tickers created from it fire when Advance crosses their deadline,
// which lets tests step through capacity windows and cooldowns without sleeping.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

// NewManualClock creates a ManualClock starting at start.
// If zero time is provided, uses current time.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that receives once the clock has advanced by d.
func (m *ManualClock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.timers = append(m.timers, &manualTimer{at: m.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a ticker driven by Advance.
func (m *ManualClock) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("testutil: non-positive ticker interval")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mt := &manualTimer{at: m.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	m.timers = append(m.timers, mt)
	return &manualTicker{clock: m, timer: mt}
}

// Advance moves the clock forward by d and fires every timer that came due.
// A ticker that missed several periods delivers a single tick, like time.Ticker.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)

	remaining := m.timers[:0]
	for _, mt := range m.timers {
		if mt.stopped {
			continue
		}
		if mt.at.After(m.now) {
			remaining = append(remaining, mt)
			continue
		}

		select {
		case mt.ch <- m.now:
		default:
		}

		if mt.period > 0 {
			for !mt.at.After(m.now) {
				mt.at = mt.at.Add(mt.period)
			}
			remaining = append(remaining, mt)
		}
	}
	m.timers = remaining
}

// Waiters returns the number of pending timers and tickers.
func (m *ManualClock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, mt := range m.timers {
		if !mt.stopped {
			n++
		}
	}
	return n
}

// BlockUntil waits (in real time) until at least n timers are pending.
// Use it before Advance when another goroutine is about to call After.
func (m *ManualClock) BlockUntil(t *testing.T, n int) {
	t.Helper()
	Eventually(t, func() bool { return m.Waiters() >= n }, TestTimeout, time.Millisecond)
}

type manualTicker struct {
	clock *ManualClock
	timer *manualTimer
}

func (mt *manualTicker) C() <-chan time.Time { return mt.timer.ch }

func (mt *manualTicker) Stop() {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	mt.timer.stopped = true
}
