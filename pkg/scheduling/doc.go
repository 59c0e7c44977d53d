/*
Package scheduling groups the execution primitives used to feed a
capacity-limited resource.

  - queue: a backlog of items handed out in batches to a worker roster
    that grows under sustained demand and can shrink when idle
  - scheduler: one-time, repeating and cron tasks driven by an
    injectable clock

Queue:

	q, _ := queue.NewWithConfig(queue.Config{
		Capacity:  1000,
		BatchSize: 25,
		Handler:   writer,
	})
	defer func() { <-q.Shutdown() }()

	ticket, err := q.Submit(item)
	if errors.Is(err, errors.ErrQueueFull) {
		// retry later or drop
	}

A ticket resolves when its item is assigned to a worker, not when the
handler finishes.

Scheduler:

	s := scheduler.New()
	s.Start()
	defer func() { <-s.Stop() }()

	_ = s.ScheduleRepeating("reset", resetWindow, time.Second)
	_ = s.ScheduleCron("stats", "@every 5s", logStats)

Both are safe for concurrent use and honor context cancellation.
*/
package scheduling
