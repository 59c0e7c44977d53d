package bucket

import (
	"context"
	"math"
	"time"
)

// Limit represents the maximum frequency of events per second.
// A zero Limit allows only the initial burst. Use Inf for unlimited rates.
type Limit float64

// Inf is the infinite rate limit; it allows all events.
var Inf = Limit(math.Inf(1))

// Every converts a minimum time interval between events to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter paces events with a token bucket. Producers use it to hold a
// steady submission rate while still allowing short bursts.
type Limiter interface {
	// Allow reports whether an event may happen now. It does not block.
	Allow() bool

	// Wait blocks until an event can happen or ctx is done.
	Wait(ctx context.Context) error

	// WaitN blocks until n events can happen or ctx is done. Tokens taken
	// for a wait that is abandoned are returned to the bucket.
	WaitN(ctx context.Context, n int) error

	// Limit returns the refill rate.
	Limit() Limit

	// Burst returns the bucket size.
	Burst() int

	// Tokens returns the number of tokens currently available.
	Tokens() float64
}
