package capacity

import (
	"math/rand"
	"time"
)

// Latency samples the delay of one round trip against a resource.
// Implementations must be safe for concurrent use.
type Latency interface {
	Sample() time.Duration
}

// Fixed is a constant latency.
type Fixed time.Duration

// Sample returns the fixed duration.
func (f Fixed) Sample() time.Duration {
	return time.Duration(f)
}

// Normal draws latencies from a normal distribution, clamped at zero.
type Normal struct {
	Mean   time.Duration
	StdDev time.Duration
}

// Sample returns one draw.
func (n Normal) Sample() time.Duration {
	d := time.Duration(float64(n.Mean) + rand.NormFloat64()*float64(n.StdDev))
	if d < 0 {
		return 0
	}
	return d
}
