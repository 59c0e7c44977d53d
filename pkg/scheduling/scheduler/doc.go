/*
Package scheduler runs one-time, repeating and cron tasks on a single ticker loop.

capflow uses it for housekeeping around the batch queue: resetting capacity
windows on a fixed cadence and logging queue statistics.

Basic Usage:

	s := scheduler.New()
	_ = s.Start()
	defer func() { <-s.Stop() }()

	// One-time task
	_ = s.ScheduleAfter("warmup", func(ctx context.Context) error {
		return nil
	}, time.Second)

	// Reset a capacity window every second
	_ = s.ScheduleRepeating("reset", func(ctx context.Context) error {
		return res.ResetWindow(ctx)
	}, time.Second)

	// Cron expressions accept an optional seconds field and descriptors
	_ = s.ScheduleCron("stats", "@every 2s", logStats)

Repeating tasks fire first at creation time plus the interval and stay aligned
to those boundaries. A run that is still in progress when the next one comes
due is skipped, never stacked.

Timing:

All timing goes through the configured clock.Clock, so tests drive the loop
with a manual clock instead of sleeping. TickInterval bounds how late a task
can run relative to its due time.

Stopping:

Stop cancels the context passed to running tasks and returns a channel that
closes after the loop and every in-flight run have returned. A stopped
scheduler can be started again; its tasks are kept.

Retries:

BackoffTask wraps a TaskFunc with exponential backoff, useful when a task
depends on a shared store such as Redis that may be briefly unavailable.
*/
package scheduler
