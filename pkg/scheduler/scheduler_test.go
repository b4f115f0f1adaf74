package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func TestAddAndRun(t *testing.T) {
	s := New(10, testLogger())

	var runs atomic.Int32
	err := s.Add("tick", 10*time.Millisecond, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if runs.Load() < 3 {
		t.Errorf("expected at least 3 runs, got %d", runs.Load())
	}
}

func TestAdd_LimitReached(t *testing.T) {
	s := New(2, testLogger())
	noop := func(ctx context.Context) error { return nil }

	if err := s.Add("a", time.Second, 0, noop); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add("b", time.Second, 0, noop); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add("c", time.Second, 0, noop); !errors.Is(err, ErrLimitReached) {
		t.Errorf("expected ErrLimitReached, got %v", err)
	}
	// Removing frees a slot
	s.Remove("a")
	if err := s.Add("c", time.Second, 0, noop); err != nil {
		t.Errorf("expected Add to succeed after Remove, got %v", err)
	}
}

func TestAdd_DuplicateName(t *testing.T) {
	s := New(10, testLogger())
	noop := func(ctx context.Context) error { return nil }

	s.Add("sweep", time.Second, 0, noop)
	if err := s.Add("sweep", time.Second, 0, noop); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestAdd_BadInterval(t *testing.T) {
	s := New(10, testLogger())
	if err := s.Add("bad", 0, 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestPanicIsolation(t *testing.T) {
	s := New(10, testLogger())

	var bad, good atomic.Int32
	s.Add("bad", 10*time.Millisecond, 0, func(ctx context.Context) error {
		bad.Add(1)
		panic("boom")
	})
	s.Add("good", 10*time.Millisecond, 0, func(ctx context.Context) error {
		good.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if good.Load() < 3 {
		t.Errorf("healthy task starved by panicking sibling: %d runs", good.Load())
	}
	if bad.Load() < 3 {
		t.Errorf("panicking task should stay scheduled: %d runs", bad.Load())
	}

	for _, info := range s.Tasks() {
		if info.Name == "bad" && info.Failures == 0 {
			t.Error("expected failures recorded for panicking task")
		}
	}
}

func TestTaskTimeout(t *testing.T) {
	s := New(10, testLogger())

	expired := make(chan struct{}, 1)
	s.Add("slow", 10*time.Millisecond, 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			select {
			case expired <- struct{}{}:
			default:
			}
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Error("task context never expired")
	}
	cancel()
	<-done
}

func TestEnableDisable(t *testing.T) {
	s := New(10, testLogger())

	var runs atomic.Int32
	s.Add("tick", 10*time.Millisecond, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if !s.Disable("tick") {
		t.Fatal("Disable failed")
	}
	frozen := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got > frozen+1 {
		t.Errorf("disabled task kept running: %d -> %d", frozen, got)
	}

	s.Enable("tick")
	time.Sleep(50 * time.Millisecond)
	if runs.Load() <= frozen {
		t.Error("enabled task never resumed")
	}

	cancel()
	<-done

	if s.Disable("missing") {
		t.Error("Disable of unknown task should report false")
	}
	if s.Enable("missing") {
		t.Error("Enable of unknown task should report false")
	}
}

func TestTasksSnapshot(t *testing.T) {
	s := New(10, testLogger())
	s.Add("sweep", time.Minute, 0, func(ctx context.Context) error { return nil })

	infos := s.Tasks()
	if len(infos) != 1 {
		t.Fatalf("expected 1 task, got %d", len(infos))
	}
	if infos[0].Name != "sweep" || infos[0].Interval != time.Minute || !infos[0].Enabled {
		t.Errorf("unexpected snapshot %+v", infos[0])
	}
	if infos[0].NextRun.IsZero() {
		t.Error("expected next run to be set")
	}
}
