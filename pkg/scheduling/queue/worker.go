package queue

import "github.com/vnykmshr/capflow/pkg/batch"

// Worker is a processing slot bound to one queue. It holds at most one
// batch at a time and asks the queue for more work when it finishes.
type Worker struct {
	id    int
	queue *Queue

	// Guarded by queue.mu.
	assignment *batch.Batch
	retired    bool
	completed  int64
}

// ID returns the worker's identity, unique within its queue.
func (w *Worker) ID() int {
	return w.id
}

// Queue returns the owning queue.
func (w *Worker) Queue() *Queue {
	return w.queue
}

// Busy reports whether the worker holds an assignment.
func (w *Worker) Busy() bool {
	w.queue.mu.Lock()
	defer w.queue.mu.Unlock()
	return w.assignment != nil
}

// Retired reports whether the worker has left the roster while busy.
func (w *Worker) Retired() bool {
	w.queue.mu.Lock()
	defer w.queue.mu.Unlock()
	return w.retired
}

// Completed returns the number of batches the worker has finished.
func (w *Worker) Completed() int64 {
	w.queue.mu.Lock()
	defer w.queue.mu.Unlock()
	return w.completed
}

// run drives batches until the queue has nothing more for this worker.
func (w *Worker) run(b *batch.Batch) {
	defer w.queue.workers.Done()

	for b != nil {
		err := w.queue.handle(w, b)
		b = w.queue.release(w, b, err)
	}
}
