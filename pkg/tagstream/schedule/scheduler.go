// Package schedule runs periodic tasks on cron specs with at most one run
// of each task in flight.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// Task is a named unit of periodic work. An empty Spec registers a task
// that only runs through Trigger.
type Task struct {
	ID   string
	Spec string
	Run  func(ctx context.Context) error
}

// Status describes a registered task.
type Status struct {
	ID      string
	Spec    string
	Running bool
	Runs    int
	Skipped int
	LastRun time.Time
	LastErr string
	NextRun time.Time
}

type entry struct {
	Task
	running atomic.Bool
	cronID  cron.EntryID

	mu      sync.Mutex
	runs    int
	skipped int
	lastRun time.Time
	lastErr error
}

// Scheduler owns a cron instance and the registered tasks.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]*entry
	ctx    context.Context
	logger *slog.Logger
	onDone func(id string, d time.Duration, err error)
}

// New creates a scheduler evaluating specs in loc.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		tasks:  make(map[string]*entry),
		ctx:    context.Background(),
		logger: logger,
	}
}

// ValidateSpec reports whether spec is a standard cron expression or
// descriptor such as "@every 5m". Empty is valid (manual only).
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Register adds a task. IDs must be unique.
func (s *Scheduler) Register(t Task) error {
	if t.ID == "" || t.Run == nil {
		return fmt.Errorf("task needs id and run func: %w", internalerr.ErrInvalidInput)
	}
	if err := ValidateSpec(t.Spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.ID]; dup {
		return fmt.Errorf("task %s: %w", t.ID, internalerr.ErrDuplicate)
	}

	e := &entry{Task: t}
	if strings.TrimSpace(t.Spec) != "" {
		id, err := s.cron.AddFunc(t.Spec, func() { s.scheduled(e) })
		if err != nil {
			return fmt.Errorf("add cron: %w", err)
		}
		e.cronID = id
	}
	s.tasks[t.ID] = e
	return nil
}

// OnDone sets a callback invoked after every run, scheduled or triggered.
// Call it before Start.
func (s *Scheduler) OnDone(fn func(id string, d time.Duration, err error)) {
	s.mu.Lock()
	s.onDone = fn
	s.mu.Unlock()
}

// Start begins cron execution. Runs started by cron receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the cron and waits for running jobs to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// scheduled is the cron callback. A tick that finds the task busy is
// skipped.
func (s *Scheduler) scheduled(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.skipped++
		e.mu.Unlock()
		s.logger.Warn("task still running, tick skipped", "task", e.ID)
		return
	}
	defer e.running.Store(false)
	s.execute(s.runContext(), e)
}

// Trigger runs a task now and waits for it. It returns ErrTaskRunning when
// a run is already in flight.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", id, internalerr.ErrUnknownTask)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("task %s: %w", id, internalerr.ErrTaskRunning)
	}
	defer e.running.Store(false)
	return s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	started := time.Now()
	s.logger.Info("task started", "task", e.ID)

	err := e.Run(ctx)

	e.mu.Lock()
	e.runs++
	e.lastRun = started
	e.lastErr = err
	e.mu.Unlock()

	d := time.Since(started)
	s.mu.Lock()
	onDone := s.onDone
	s.mu.Unlock()
	if onDone != nil {
		onDone(e.ID, d, err)
	}

	if err != nil {
		s.logger.Error("task failed", "task", e.ID, "duration", d, "error", err)
		return err
	}
	s.logger.Info("task finished", "task", e.ID, "duration", d)
	return nil
}

// Status lists registered tasks ordered by ID.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := Status{ID: e.ID, Spec: e.Spec, Running: e.running.Load()}
		e.mu.Lock()
		st.Runs = e.runs
		st.Skipped = e.skipped
		st.LastRun = e.lastRun
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		e.mu.Unlock()
		if e.cronID != 0 {
			st.NextRun = s.cron.Entry(e.cronID).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
