package queue

import (
	"context"

	"github.com/vnykmshr/capflow/pkg/batch"
)

// Ticket is the completion signal for one submitted item. It resolves
// exactly once: with the Worker the item was assigned to, or with an error
// when the item was canceled or dropped at shutdown.
type Ticket struct {
	item  batch.Item
	queue *Queue
	done  chan struct{}

	// Guarded by queue.mu until done is closed.
	resolved bool
	worker   *Worker
	err      error
}

func newTicket(q *Queue, item batch.Item) *Ticket {
	return &Ticket{
		item:  item,
		queue: q,
		done:  make(chan struct{}),
	}
}

func (t *Ticket) resolveLocked(w *Worker, err error) {
	if t.resolved {
		return
	}
	t.resolved = true
	t.worker = w
	t.err = err
	close(t.done)
}

// Item returns the submitted item.
func (t *Ticket) Item() batch.Item {
	return t.item
}

// Done returns a channel that is closed when the ticket resolves.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the item is assigned to a worker. If ctx ends first
// the item is withdrawn from the backlog and ctx.Err() is returned, unless
// it was assigned in the meantime, in which case the worker is returned.
func (t *Ticket) Wait(ctx context.Context) (*Worker, error) {
	select {
	case <-t.done:
		return t.worker, t.err
	case <-ctx.Done():
	}

	t.queue.mu.Lock()
	canceled := t.queue.cancelLocked(t, ctx.Err())
	t.queue.mu.Unlock()
	if canceled {
		return nil, ctx.Err()
	}
	<-t.done
	return t.worker, t.err
}

// Cancel withdraws a pending item from the backlog, resolving it with
// context.Canceled. It returns false when the ticket has already resolved.
func (t *Ticket) Cancel() bool {
	t.queue.mu.Lock()
	defer t.queue.mu.Unlock()
	return t.queue.cancelLocked(t, context.Canceled)
}

// Worker returns the assigned worker, or nil while the ticket is pending
// or when it resolved with an error.
func (t *Ticket) Worker() *Worker {
	select {
	case <-t.done:
		return t.worker
	default:
		return nil
	}
}

// Err returns the resolution error, or nil while pending or on assignment.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
