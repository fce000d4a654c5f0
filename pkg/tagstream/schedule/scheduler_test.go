package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

func noop(context.Context) error { return nil }

func TestValidateSpec(t *testing.T) {
	for _, spec := range []string{"", "  ", "*/5 * * * *", "@every 10m", "@daily"} {
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("ValidateSpec(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"* * *", "every minute", "61 * * * *"} {
		if err := ValidateSpec(spec); err == nil {
			t.Errorf("ValidateSpec(%q) accepted", spec)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New(nil, nil)
	if err := s.Register(Task{Run: noop}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("missing id: %v", err)
	}
	if err := s.Register(Task{ID: "x"}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("missing run: %v", err)
	}
	if err := s.Register(Task{ID: "x", Spec: "bogus", Run: noop}); err == nil {
		t.Fatal("bad spec accepted")
	}
	if err := s.Register(Task{ID: "x", Spec: "@every 1h", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Task{ID: "x", Run: noop}); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestTriggerRunsTask(t *testing.T) {
	s := New(time.UTC, nil)
	calls := 0
	boom := errors.New("boom")
	fail := false
	err := s.Register(Task{ID: "count", Run: func(context.Context) error {
		calls++
		if fail {
			return boom
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var done []string
	s.OnDone(func(id string, _ time.Duration, err error) {
		done = append(done, id)
	})

	ctx := context.Background()
	if err := s.Trigger(ctx, "count"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	fail = true
	if err := s.Trigger(ctx, "count"); !errors.Is(err, boom) {
		t.Fatalf("Trigger err = %v, want boom", err)
	}
	if calls != 2 || len(done) != 2 {
		t.Fatalf("calls = %d, done callbacks = %v", calls, done)
	}

	st := s.Status()
	if len(st) != 1 || st[0].Runs != 2 || st[0].LastErr != "boom" || st[0].Running || st[0].LastRun.IsZero() {
		t.Fatalf("status = %+v", st)
	}
	if !st[0].NextRun.IsZero() {
		t.Fatalf("manual task has next run %v", st[0].NextRun)
	}

	if err := s.Trigger(ctx, "missing"); !errors.Is(err, internalerr.ErrUnknownTask) {
		t.Fatalf("unknown task: %v", err)
	}
}

func TestTriggerRejectsOverlap(t *testing.T) {
	s := New(time.UTC, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	err := s.Register(Task{ID: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "slow") }()
	<-started

	if err := s.Trigger(context.Background(), "slow"); !errors.Is(err, internalerr.ErrTaskRunning) {
		t.Fatalf("overlapping trigger: %v", err)
	}
	if st := s.Status(); !st[0].Running {
		t.Fatalf("status during run = %+v", st[0])
	}

	// a cron tick while busy is skipped, not queued
	s.mu.Lock()
	e := s.tasks["slow"]
	s.mu.Unlock()
	s.scheduled(e)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	st := s.Status()[0]
	if st.Runs != 1 || st.Skipped != 1 || st.Running {
		t.Fatalf("status after run = %+v", st)
	}
}

func TestStatusOrderAndNextRun(t *testing.T) {
	s := New(time.UTC, nil)
	for _, task := range []Task{
		{ID: "b", Spec: "@every 1h", Run: noop},
		{ID: "a", Run: noop},
	} {
		if err := s.Register(task); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	s.Start(context.Background())
	defer s.Stop()

	st := s.Status()
	if len(st) != 2 || st[0].ID != "a" || st[1].ID != "b" {
		t.Fatalf("status order = %+v", st)
	}
	// the cron loop fills Next asynchronously after Start
	deadline := time.Now().Add(2 * time.Second)
	for st[1].NextRun.IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		st = s.Status()
	}
	if st[1].NextRun.IsZero() {
		t.Fatal("scheduled task has no next run")
	}
}
