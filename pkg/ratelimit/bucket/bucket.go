package bucket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/capflow/pkg/clock"
	cfcontext "github.com/vnykmshr/capflow/pkg/common/context"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
)

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Rate is the number of tokens added per second.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock drives refills and waits. Defaults to the system clock.
	Clock clock.Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

type tokenBucket struct {
	mu         sync.Mutex
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      clock.Clock
}

// New creates a limiter that starts full.
func New(rate Limit, burst int) (Limiter, error) {
	return NewWithConfig(Config{Rate: rate, Burst: burst, InitialTokens: -1})
}

// NewWithConfig creates a limiter from config.
func NewWithConfig(config Config) (Limiter, error) {
	if config.Rate < 0 {
		return nil, cferrors.NewValidationError("bucket", "rate", config.Rate, "rate cannot be negative").
			WithHint("use Inf for no rate limit or a positive value")
	}
	if err := validation.ValidatePositive("bucket", "burst", config.Burst); err != nil {
		return nil, err
	}

	c := clock.OrSystem(config.Clock)
	initial := float64(config.InitialTokens)
	if config.InitialTokens < 0 || initial > float64(config.Burst) {
		initial = float64(config.Burst)
	}

	return &tokenBucket{
		limit:      config.Rate,
		burst:      config.Burst,
		tokens:     initial,
		lastUpdate: c.Now(),
		clock:      c,
	}, nil
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.limit == Inf {
		return true
	}
	tb.refill(tb.clock.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) Wait(ctx context.Context) error {
	return tb.WaitN(ctx, 1)
}

func (tb *tokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay, err := tb.take(n)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}

	if err := cfcontext.Sleep(ctx, tb.clock, delay); err != nil {
		tb.giveBack(n)
		return err
	}
	return nil
}

// take removes n tokens, letting the balance go negative, and returns how
// long the caller must wait for the debt to be repaid.
func (tb *tokenBucket) take(n int) (time.Duration, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.limit == Inf {
		return 0, nil
	}
	if n > tb.burst {
		return 0, fmt.Errorf("bucket: requested %d tokens exceeds burst %d", n, tb.burst)
	}

	tb.refill(tb.clock.Now())
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return 0, nil
	}
	if tb.limit == 0 {
		return 0, fmt.Errorf("bucket: zero rate cannot refill %d tokens", n)
	}

	missing := float64(n) - tb.tokens
	tb.tokens -= float64(n)
	return time.Duration(float64(time.Second) * missing / float64(tb.limit)), nil
}

func (tb *tokenBucket) giveBack(n int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	tb.tokens = math.Min(tb.tokens+float64(n), float64(tb.burst))
}

func (tb *tokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limit
}

func (tb *tokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	return tb.tokens
}

func (tb *tokenBucket) refill(now time.Time) {
	if tb.limit == Inf {
		tb.tokens = float64(tb.burst)
		tb.lastUpdate = now
		return
	}

	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.lastUpdate = now
	if tb.limit == 0 {
		return
	}
	tb.tokens = math.Min(tb.tokens+elapsed.Seconds()*float64(tb.limit), float64(tb.burst))
}
