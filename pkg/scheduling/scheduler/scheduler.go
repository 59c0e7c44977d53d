package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/clock"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/common/validation"
	"github.com/vnykmshr/capflow/pkg/metrics"
)

// TaskFunc is the unit of scheduled work.
type TaskFunc func(ctx context.Context) error

// Task describes a scheduled task.
type Task struct {
	ID        string
	RunAt     time.Time
	Interval  time.Duration // Zero for one-time and cron tasks
	Cron      string
	Created   time.Time
	Runs      int64
	Failures  int64
	LastError string
}

// Scheduler runs one-time, repeating and cron tasks.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, task TaskFunc, runAt time.Time) error
	ScheduleAfter(id string, task TaskFunc, delay time.Duration) error
	ScheduleRepeating(id string, task TaskFunc, interval time.Duration) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, task TaskFunc) error

	// Task management
	Cancel(id string) bool
	CancelAll()
	List() []Task

	// Lifecycle
	Start() error
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	Name         string         // Label for logs and metrics (default: "scheduler")
	Location     *time.Location // For cron scheduling (default: time.Local)
	TickInterval time.Duration  // How often to check for ready tasks (default: 50ms)
	MaxTasks     int            // Maximum number of scheduled tasks (default: 10000)
	TaskTimeout  time.Duration  // Per-run timeout, zero for none
	Clock        clock.Clock
	Logger       *log.Logger
	Metrics      metrics.Config
}

type scheduledTask struct {
	id           string
	task         TaskFunc
	runAt        time.Time
	interval     time.Duration
	cronExpr     string
	cronSchedule cron.Schedule
	created      time.Time

	running   bool
	runs      int64
	failures  int64
	lastError string
}

type scheduler struct {
	name         string
	location     *time.Location
	tickInterval time.Duration
	maxTasks     int
	taskTimeout  time.Duration
	clock        clock.Clock
	logger       *log.Logger
	registry     *metrics.Registry

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	ticker  clock.Ticker
	done    chan struct{}
	loop    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	runs    sync.WaitGroup
}

// New creates a scheduler with default configuration.
func New() Scheduler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) Scheduler {
	name := cfg.Name
	if name == "" {
		name = "scheduler"
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}

	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10000
	}

	return &scheduler{
		name:         name,
		location:     location,
		tickInterval: tickInterval,
		maxTasks:     maxTasks,
		taskTimeout:  cfg.TaskTimeout,
		clock:        clock.OrSystem(cfg.Clock),
		logger:       logging.Component(cfg.Logger, name),
		registry:     cfg.Metrics.Resolve(),
		tasks:        make(map[string]*scheduledTask),
	}
}

func validateTask(id string, task TaskFunc) error {
	if id == "" {
		return cferrors.NewValidationError("scheduler", "id", id, "cannot be empty")
	}
	if len(id) > 255 {
		return cferrors.NewValidationError("scheduler", "id", id, "too long").
			WithHint("use at most 255 characters")
	}
	if task == nil {
		return cferrors.NewValidationError("scheduler", "task", nil, "cannot be nil")
	}
	return nil
}

// addLocked stores t, enforcing unique IDs and the task limit.
func (s *scheduler) addLocked(t *scheduledTask) error {
	if _, exists := s.tasks[t.id]; exists {
		return fmt.Errorf("task with ID %q already exists, use a different ID or cancel the existing task first", t.id)
	}
	if len(s.tasks) >= s.maxTasks {
		return fmt.Errorf("cannot schedule task: maximum number of tasks (%d) reached", s.maxTasks)
	}
	s.tasks[t.id] = t
	return nil
}

func (s *scheduler) Schedule(id string, task TaskFunc, runAt time.Time) error {
	if err := validateTask(id, task); err != nil {
		return err
	}
	if runAt.IsZero() {
		return cferrors.NewValidationError("scheduler", "runAt", runAt, "cannot be zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(&scheduledTask{
		id:      id,
		task:    task,
		runAt:   runAt,
		created: s.clock.Now(),
	})
}

func (s *scheduler) ScheduleAfter(id string, task TaskFunc, delay time.Duration) error {
	return s.Schedule(id, task, s.clock.Now().Add(delay))
}

// ScheduleRepeating runs task every interval, first at now+interval.
// Runs stay aligned to the original boundaries; missed periods are skipped.
func (s *scheduler) ScheduleRepeating(id string, task TaskFunc, interval time.Duration) error {
	if err := validateTask(id, task); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("scheduler", "interval", interval); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	return s.addLocked(&scheduledTask{
		id:       id,
		task:     task,
		runAt:    now.Add(interval),
		interval: interval,
		created:  now,
	})
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, task TaskFunc) error {
	if err := validateTask(id, task); err != nil {
		return err
	}

	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	return s.addLocked(&scheduledTask{
		id:           id,
		task:         task,
		runAt:        schedule.Next(now.In(s.location)),
		cronExpr:     cronExpr,
		cronSchedule: schedule,
		created:      now,
	})
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		delete(s.tasks, id)
		return true
	}
	return false
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*scheduledTask)
}

func (s *scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, Task{
			ID:        t.id,
			RunAt:     t.runAt,
			Interval:  t.interval,
			Cron:      t.cronExpr,
			Created:   t.created,
			Runs:      t.runs,
			Failures:  t.failures,
			LastError: t.lastError,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})

	return tasks
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}

	s.running = true
	s.ticker = s.clock.NewTicker(s.tickInterval)
	s.done = make(chan struct{})
	s.loop = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.run(s.ticker, s.done, s.loop)
	return nil
}

// Stop halts scheduling, cancels running tasks and returns a channel that
// closes once the loop and every in-flight run have returned.
func (s *scheduler) Stop() <-chan struct{} {
	stopped := make(chan struct{})

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		close(stopped)
		return stopped
	}
	s.running = false
	close(s.done)
	s.ticker.Stop()
	s.cancel()
	loop := s.loop
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		<-loop
		s.runs.Wait()
	}()

	return stopped
}

func (s *scheduler) run(ticker clock.Ticker, done <-chan struct{}, loop chan<- struct{}) {
	defer close(loop)

	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			s.processReadyTasks()
		}
	}
}

func (s *scheduler) processReadyTasks() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || len(s.tasks) == 0 {
		return
	}

	for id, task := range s.tasks {
		if task.runAt.After(now) {
			continue
		}

		switch {
		case task.interval > 0:
			for !task.runAt.After(now) {
				task.runAt = task.runAt.Add(task.interval)
			}
		case task.cronSchedule != nil:
			task.runAt = task.cronSchedule.Next(now.In(s.location))
		default:
			delete(s.tasks, id)
		}

		if task.running {
			s.logger.Debug("previous run still in progress, skipping", "task", id)
			continue
		}
		task.running = true
		s.runs.Add(1)
		go s.execute(s.ctx, task)
	}
}

// execute runs one task, recording its outcome and surviving panics.
func (s *scheduler) execute(ctx context.Context, task *scheduledTask) {
	defer s.runs.Done()

	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
				s.logger.Error("task panicked", "task", task.id, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		return task.task(ctx)
	}()

	s.mu.Lock()
	task.running = false
	task.runs++
	if err != nil {
		task.failures++
		task.lastError = err.Error()
	} else {
		task.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("task failed", "task", task.id, "err", err)
	}

	if s.registry != nil {
		s.registry.SchedulerRuns.WithLabelValues(s.name, task.id).Inc()
		if err != nil {
			s.registry.SchedulerFailures.WithLabelValues(s.name, task.id).Inc()
		}
	}
}
