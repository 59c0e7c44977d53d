package scheduler

import (
	"context"
	"time"

	"github.com/vnykmshr/capflow/pkg/clock"
	cfcontext "github.com/vnykmshr/capflow/pkg/common/context"
)

// BackoffTask wraps a task with retry logic.
type BackoffTask struct {
	Task         TaskFunc
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Clock        clock.Clock
}

// Run executes the task, retrying with exponential backoff. It returns the
// last error once retries are exhausted.
func (bt BackoffTask) Run(ctx context.Context) error {
	c := clock.OrSystem(bt.Clock)
	var lastErr error
	delay := bt.InitialDelay

	for attempt := 0; attempt <= bt.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := cfcontext.Sleep(ctx, c, delay); err != nil {
				return err
			}
		}

		lastErr = bt.Task(ctx)
		if lastErr == nil {
			return nil
		}

		// Double delay for next attempt
		delay *= 2
		if bt.MaxDelay > 0 && delay > bt.MaxDelay {
			delay = bt.MaxDelay
		}
	}

	return lastErr
}
