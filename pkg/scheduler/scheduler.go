// Package scheduler runs the reflector's periodic housekeeping tasks
// (timeout sweeps, ACL reloads, status publication) from one loop woken at
// the earliest due task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/logger"
)

// TaskFunc is the work a task performs. The context carries the per-run
// timeout; tasks should return early when it is cancelled.
type TaskFunc func(ctx context.Context) error

// ErrLimitReached is returned by Add when the task list is full
var ErrLimitReached = errors.New("scheduler: task limit reached")

// ErrDuplicateName is returned by Add when a task with the name exists
var ErrDuplicateName = errors.New("scheduler: duplicate task name")

type task struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       TaskFunc
	next     time.Time
	enabled  bool
	runs     uint64
	failures uint64
}

// TaskInfo is a snapshot of one scheduled task
type TaskInfo struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	Enabled  bool
	Runs     uint64
	Failures uint64
}

// Scheduler runs registered tasks at their intervals. The task list is
// bounded; registration past the limit fails rather than growing.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	max     int
	wake    chan struct{}
	log     *logger.Logger
	running bool
}

// New creates a scheduler bounded by maxTasks registered tasks
func New(maxTasks int, log *logger.Logger) *Scheduler {
	return &Scheduler{
		tasks: make(map[string]*task),
		max:   maxTasks,
		wake:  make(chan struct{}, 1),
		log:   log.WithComponent("scheduler"),
	}
}

// Add registers a task to run every interval. A timeout of zero means the
// run inherits only the scheduler's context. The first run happens one
// interval from now.
func (s *Scheduler) Add(name string, interval, timeout time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrDuplicateName
	}
	if s.max > 0 && len(s.tasks) >= s.max {
		return ErrLimitReached
	}

	s.tasks[name] = &task{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		next:     time.Now().Add(interval),
		enabled:  true,
	}
	s.kick()
	return nil
}

// Remove unregisters a task
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; !ok {
		return false
	}
	delete(s.tasks, name)
	s.kick()
	return true
}

// Enable resumes a disabled task; its next run is one interval from now
func (s *Scheduler) Enable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if !t.enabled {
		t.enabled = true
		t.next = time.Now().Add(t.interval)
	}
	s.kick()
	return true
}

// Disable keeps a task registered but stops running it
func (s *Scheduler) Disable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.enabled = false
	s.kick()
	return true
}

// Tasks returns a snapshot of all registered tasks
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskInfo{
			Name:     t.name,
			Interval: t.interval,
			NextRun:  t.next,
			Enabled:  t.enabled,
			Runs:     t.runs,
			Failures: t.failures,
		})
	}
	return out
}

// Run drives the task loop until ctx is cancelled. It blocks; callers run
// it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.log.Info("scheduler started")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := s.nextDue(time.Now())
		if due != nil {
			s.runTask(ctx, due)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// nextDue returns the earliest due task, or the wait until one is due.
// A due task's next run is advanced before it executes so a slow run
// cannot pile up.
func (s *Scheduler) nextDue(now time.Time) (*task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := time.Hour
	var due *task
	for _, t := range s.tasks {
		if !t.enabled {
			continue
		}
		if !t.next.After(now) {
			if due == nil || t.next.Before(due.next) {
				due = t
			}
			continue
		}
		if d := t.next.Sub(now); d < wait {
			wait = d
		}
	}
	if due != nil {
		due.next = now.Add(due.interval)
		due.runs++
	}
	return due, wait
}

// runTask executes one task run. A panic in the task is logged and the
// task stays scheduled; one misbehaving task cannot take down the loop.
func (s *Scheduler) runTask(ctx context.Context, t *task) {
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			t.failures++
			s.mu.Unlock()
			s.log.Error("task panicked",
				logger.String("task", t.name),
				logger.Any("panic", r))
		}
	}()

	if err := t.fn(runCtx); err != nil {
		s.mu.Lock()
		t.failures++
		s.mu.Unlock()
		s.log.Warn("task failed",
			logger.String("task", t.name),
			logger.Error(err))
	}
}

// kick wakes the run loop so it reconsiders the schedule. Callers hold mu.
func (s *Scheduler) kick() {
	if !s.running {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
