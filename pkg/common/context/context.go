package context

import (
	"context"
	"time"

	"github.com/vnykmshr/capflow/pkg/clock"
)

// Sleep suspends for d on the given clock. It returns ctx.Err() if the
// context is canceled first. Non-positive durations return immediately
// unless the context is already done.
func Sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
