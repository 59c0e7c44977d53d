package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/clock"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
)

// Handler processes one assigned batch. It runs on the worker's goroutine
// and the worker is freed when it returns, whatever the result.
type Handler interface {
	HandleBatch(ctx context.Context, b *batch.Batch) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, b *batch.Batch) error

// HandleBatch calls f(ctx, b).
func (f HandlerFunc) HandleBatch(ctx context.Context, b *batch.Batch) error {
	return f(ctx, b)
}

// BatchQueue is the surface shared by Queue and its metrics decorator.
type BatchQueue interface {
	Submit(item batch.Item) (*Ticket, error)
	SetWorkerCount(n int)
	Stats() Stats
	Name() string
	Shutdown() <-chan struct{}
	ShutdownWithTimeout(timeout time.Duration) <-chan struct{}
}

// Default values applied by NewWithConfig.
const (
	DefaultBatchSize        = 10
	DefaultScaleUpThreshold = 5
	DefaultScaleUpCooldown  = time.Second
)

// Config holds configuration options for a Queue.
type Config struct {
	// Name identifies the queue in logs and metrics. Defaults to "queue".
	Name string

	// Capacity bounds the backlog. Zero means no backlog: submissions
	// succeed only when a worker is free. Negative means unbounded.
	Capacity int

	// BatchSize is the most items handed to a worker at once.
	// Defaults to DefaultBatchSize.
	BatchSize int

	// InitialWorkers is the starting roster size. Defaults to 1.
	InitialWorkers int

	// ScaleUpThreshold is the number of consecutive non-empty assignments
	// that must be exceeded before a worker is added.
	// Defaults to DefaultScaleUpThreshold.
	ScaleUpThreshold int

	// ScaleUpCooldown is the minimum time between scale ups.
	// Defaults to DefaultScaleUpCooldown.
	ScaleUpCooldown time.Duration

	// MaxWorkers caps automatic scale up. Zero means no cap.
	MaxWorkers int

	// ScaleDownIdle lets a worker that finds the backlog empty leave the
	// roster while more than MinWorkers remain.
	ScaleDownIdle bool

	// MinWorkers is the floor for idle scale down.
	MinWorkers int

	// Handler processes assigned batches. Required.
	Handler Handler

	// Clock drives the scale up cooldown. Defaults to the system clock.
	Clock clock.Clock

	// Logger receives scaling and failure events. Defaults to the process logger.
	Logger *log.Logger

	// OnScale is called after every roster size change.
	OnScale func(from, to int)

	// OnReject is called for every submission refused with ErrQueueFull.
	OnReject func(item batch.Item)
}

type entry struct {
	item   batch.Item
	ticket *Ticket
}

// Queue accepts items, batches them for a dynamic roster of workers and
// grows the roster under sustained backlog.
type Queue struct {
	config Config
	clock  clock.Clock
	logger *log.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu          sync.Mutex
	backlog     []entry
	roster      []*Worker
	nextID      int
	busy        int
	retiring    int
	consecutive int
	lastScaleUp time.Time
	closed      bool
	drained     bool

	submitted     int64
	rejected      int64
	assignments   int64
	scaleUps      int64
	scaleDowns    int64
	handlerErrors int64

	workers      sync.WaitGroup
	drainedCh    chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates a queue with the given backlog capacity, batch size and handler.
func New(capacity, batchSize int, handler Handler) (*Queue, error) {
	return NewWithConfig(Config{
		Capacity:  capacity,
		BatchSize: batchSize,
		Handler:   handler,
	})
}

// NewWithConfig creates a queue with the specified configuration.
func NewWithConfig(config Config) (*Queue, error) {
	if config.Handler == nil {
		return nil, cferrors.NewValidationError("queue", "Handler", nil, "cannot be nil").
			WithHint("provide a Handler that processes assigned batches")
	}
	if err := validation.ValidateNonNegative("queue", "BatchSize", config.BatchSize); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("queue", "ScaleUpThreshold", config.ScaleUpThreshold); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("queue", "ScaleUpCooldown", config.ScaleUpCooldown); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("queue", "MaxWorkers", config.MaxWorkers); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("queue", "MinWorkers", config.MinWorkers); err != nil {
		return nil, err
	}
	if config.ScaleDownIdle && config.MinWorkers < 1 {
		return nil, cferrors.NewValidationError("queue", "MinWorkers", config.MinWorkers,
			"must be at least 1 with ScaleDownIdle").
			WithHint("an empty roster can never pick up new submissions")
	}
	if config.MaxWorkers > 0 && config.MinWorkers > config.MaxWorkers {
		return nil, cferrors.NewValidationError("queue", "MinWorkers", config.MinWorkers,
			fmt.Sprintf("exceeds MaxWorkers %d", config.MaxWorkers)).
			WithHint("MinWorkers must not be greater than MaxWorkers")
	}

	if config.Name == "" {
		config.Name = "queue"
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.InitialWorkers <= 0 {
		config.InitialWorkers = 1
	}
	if config.ScaleUpThreshold == 0 {
		config.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if config.ScaleUpCooldown == 0 {
		config.ScaleUpCooldown = DefaultScaleUpCooldown
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:    config,
		clock:     clock.OrSystem(config.Clock),
		logger:    logging.Component(config.Logger, "queue/"+config.Name),
		runCtx:    runCtx,
		cancelRun: cancel,
		drainedCh: make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := 0; i < config.InitialWorkers; i++ {
		q.nextID++
		q.roster = append(q.roster, &Worker{id: q.nextID, queue: q})
	}

	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.config.Name
}

// Submit offers item to the queue. A free worker takes it at once and the
// returned ticket is already resolved. Otherwise the item joins the backlog
// if there is room, or the call fails with ErrQueueFull and nothing is
// admitted. After Shutdown it fails with ErrClosed.
func (q *Queue) Submit(item batch.Item) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, cferrors.NewOperationError("queue", "Submit", cferrors.ErrClosed).
			WithContext(q.config.Name)
	}

	t := newTicket(q, item)

	if w := q.freeWorkerLocked(); w != nil {
		q.submitted++
		q.startLocked(w, batch.New(item), []*Ticket{t})
		q.spawnLocked(w)
		return t, nil
	}

	if q.config.Capacity < 0 || len(q.backlog) < q.config.Capacity {
		q.submitted++
		q.backlog = append(q.backlog, entry{item: item, ticket: t})
		return t, nil
	}

	q.rejected++
	if q.config.OnReject != nil {
		q.config.OnReject(item)
	}
	return nil, cferrors.NewOperationError("queue", "Submit", cferrors.ErrQueueFull).
		WithContext(fmt.Sprintf("%s: backlog %d/%d", q.config.Name, len(q.backlog), q.config.Capacity))
}

// SetWorkerCount resizes the roster. Negative counts clamp to zero.
// New workers immediately try to take work from the backlog. Removed
// workers that are busy finish their batch before leaving.
func (q *Queue) SetWorkerCount(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resizeLocked(n)
	q.checkDrainedLocked()
}

// Workers returns the current roster size.
func (q *Queue) Workers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.roster)
}

// resizeLocked grows or shrinks the roster to n.
func (q *Queue) resizeLocked(n int) {
	if n < 0 {
		n = 0
	}
	from := len(q.roster)
	if n == from {
		return
	}

	if n < from {
		for len(q.roster) > n {
			last := len(q.roster) - 1
			w := q.roster[last]
			q.roster[last] = nil
			q.roster = q.roster[:last]
			if w.assignment != nil {
				w.retired = true
				q.retiring++
			}
		}
		q.scaledLocked(from, n)
		return
	}

	added := make([]*Worker, 0, n-from)
	for len(q.roster) < n {
		q.nextID++
		w := &Worker{id: q.nextID, queue: q}
		q.roster = append(q.roster, w)
		added = append(added, w)
	}
	q.scaledLocked(from, len(q.roster))

	for _, w := range added {
		if q.assignLocked(w) {
			q.spawnLocked(w)
		}
	}
}

func (q *Queue) scaledLocked(from, to int) {
	q.logger.Info("worker count changed", "from", from, "to", to, "backlog", len(q.backlog))
	if q.config.OnScale != nil {
		q.config.OnScale(from, to)
	}
}

func (q *Queue) freeWorkerLocked() *Worker {
	for _, w := range q.roster {
		if w.assignment == nil {
			return w
		}
	}
	return nil
}

// assignLocked is one assignment attempt for w. It reports whether w
// received a batch.
func (q *Queue) assignLocked(w *Worker) bool {
	if w.assignment != nil || w.retired {
		return false
	}
	if len(q.backlog) == 0 {
		q.consecutive = 0
		return false
	}
	if q.runCtx.Err() != nil {
		return false
	}

	n := q.config.BatchSize
	if n > len(q.backlog) {
		n = len(q.backlog)
	}

	items := make([]batch.Item, n)
	tickets := make([]*Ticket, n)
	for i := 0; i < n; i++ {
		items[i] = q.backlog[i].item
		tickets[i] = q.backlog[i].ticket
		q.backlog[i] = entry{}
	}
	q.backlog = q.backlog[n:]
	if len(q.backlog) == 0 {
		q.backlog = nil
	}

	q.startLocked(w, batch.New(items...), tickets)
	q.consecutive++
	q.maybeScaleUpLocked()
	return true
}

// startLocked binds b to w and resolves its tickets.
func (q *Queue) startLocked(w *Worker, b *batch.Batch, tickets []*Ticket) {
	w.assignment = b
	q.busy++
	q.assignments++
	for _, t := range tickets {
		t.resolveLocked(w, nil)
	}
}

// spawnLocked starts a goroutine driving w's current assignment.
func (q *Queue) spawnLocked(w *Worker) {
	q.workers.Add(1)
	go w.run(w.assignment)
}

func (q *Queue) maybeScaleUpLocked() {
	if q.consecutive <= q.config.ScaleUpThreshold {
		return
	}
	if q.config.MaxWorkers > 0 && len(q.roster) >= q.config.MaxWorkers {
		return
	}
	now := q.clock.Now()
	if !q.lastScaleUp.IsZero() && now.Sub(q.lastScaleUp) < q.config.ScaleUpCooldown {
		return
	}

	q.lastScaleUp = now
	q.scaleUps++
	q.logger.Info("scaling up", "consecutive", q.consecutive, "backlog", len(q.backlog))
	q.resizeLocked(len(q.roster) + 1)
}

// handle runs the handler for one batch, converting a panic into an error.
func (q *Queue) handle(w *Worker, b *batch.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			q.logger.Error("handler panicked", "worker", w.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return q.config.Handler.HandleBatch(q.runCtx, b)
}

// release frees w after its batch and returns the next batch for it, or
// nil when the worker should stop.
func (q *Queue) release(w *Worker, b *batch.Batch, err error) *batch.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	w.assignment = nil
	w.completed++
	q.busy--

	if err != nil {
		q.handlerErrors++
		q.logger.Warn("batch failed", "worker", w.id, "items", b.Len(), "fulfilled", b.Fulfilled(), "err", err)
	}

	if w.retired {
		q.retiring--
		q.checkDrainedLocked()
		return nil
	}

	if q.assignLocked(w) {
		return w.assignment
	}

	if q.config.ScaleDownIdle && len(q.roster) > q.config.MinWorkers {
		q.removeLocked(w)
	}
	q.checkDrainedLocked()
	return nil
}

// removeLocked drops an idle worker from the roster.
func (q *Queue) removeLocked(w *Worker) {
	for i, rw := range q.roster {
		if rw != w {
			continue
		}
		from := len(q.roster)
		copy(q.roster[i:], q.roster[i+1:])
		q.roster[from-1] = nil
		q.roster = q.roster[:from-1]
		q.scaleDowns++
		q.scaledLocked(from, from-1)
		return
	}
}

// cancelLocked removes t from the backlog and resolves it with cause. It
// reports false when t was already resolved.
func (q *Queue) cancelLocked(t *Ticket, cause error) bool {
	if t.resolved {
		return false
	}
	for i, e := range q.backlog {
		if e.ticket == t {
			q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
			break
		}
	}
	t.resolveLocked(nil, cause)
	q.checkDrainedLocked()
	return true
}

// checkDrainedLocked closes drainedCh once a closed queue has no work left
// it can make progress on. Items stranded without workers fail with ErrClosed.
func (q *Queue) checkDrainedLocked() {
	if !q.closed || q.drained || q.busy > 0 {
		return
	}
	if len(q.backlog) > 0 && len(q.roster) > 0 && q.runCtx.Err() == nil {
		return
	}
	q.failBacklogLocked()
	q.drained = true
	close(q.drainedCh)
}

func (q *Queue) failBacklogLocked() {
	for _, e := range q.backlog {
		e.ticket.resolveLocked(nil, cferrors.ErrClosed)
	}
	q.backlog = nil
}

// Shutdown stops accepting submissions and lets the workers drain the
// backlog and finish in-flight batches. The returned channel closes once
// every worker goroutine has exited.
func (q *Queue) Shutdown() <-chan struct{} {
	q.shutdownOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.checkDrainedLocked()
		q.mu.Unlock()

		go func() {
			<-q.drainedCh
			q.workers.Wait()
			q.cancelRun()
			close(q.done)
		}()
	})
	return q.done
}

// ShutdownWithTimeout shuts down gracefully but, after timeout, cancels the
// context handed to handlers and fails all remaining tickets with ErrClosed.
func (q *Queue) ShutdownWithTimeout(timeout time.Duration) <-chan struct{} {
	done := q.Shutdown()
	out := make(chan struct{})

	go func() {
		defer close(out)
		select {
		case <-done:
			return
		case <-q.clock.After(timeout):
		}

		q.logger.Warn("shutdown timed out, canceling in-flight batches", "timeout", timeout)
		q.cancelRun()

		q.mu.Lock()
		q.failBacklogLocked()
		q.checkDrainedLocked()
		q.mu.Unlock()

		<-done
	}()
	return out
}
