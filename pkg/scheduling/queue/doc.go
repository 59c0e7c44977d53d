// Package queue provides an autoscaling batch queue.
//
// Producers Submit items and receive a Ticket. When a worker is free the
// item is assigned to it at once as a one-item batch; otherwise the item
// waits in a bounded FIFO backlog, and a submission that would overflow the
// backlog fails with errors.ErrQueueFull. Whenever a worker finishes its
// batch it takes up to BatchSize items from the head of the backlog.
//
// # Scaling
//
// The queue counts consecutive assignment attempts that found work waiting.
// The counter resets whenever an attempt finds the backlog empty. Once it
// exceeds ScaleUpThreshold, and at least ScaleUpCooldown has passed since
// the last scale up, one worker is added. SetWorkerCount resizes the roster
// explicitly; workers removed while busy finish their batch first, so
// shrinking never loses work. ScaleDownIdle lets idle workers leave the
// roster down to MinWorkers.
//
// # Usage
//
//	q, err := queue.NewWithConfig(queue.Config{
//		Capacity:  1000,
//		BatchSize: 25,
//		Handler:   writer,
//	})
//	if err != nil {
//		return err
//	}
//	defer func() { <-q.Shutdown() }()
//
//	ticket, err := q.Submit(batch.Item{Key: "user-1"})
//	if errors.Is(err, cferrors.ErrQueueFull) {
//		// back off and resubmit
//	}
//	worker, err := ticket.Wait(ctx)
//
// Handlers run on the worker's goroutine outside the queue lock. Hooks in
// Config run with the lock held and must not call back into the queue.
package queue
