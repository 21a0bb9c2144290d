package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSupervisorRestartsOnFailure(t *testing.T) {
	var calls int
	done := make(chan struct{})
	cfg := DefaultConfig("t", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		close(done)
		<-ctx.Done()
		return nil
	})
	cfg.RestartDelay = 10 * time.Millisecond

	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not reach third attempt")
	}
	cancel()
	s.Stop()
}

func TestSupervisorEscalatesAfterCap(t *testing.T) {
	escalated := make(chan string, 1)
	cfg := DefaultConfig("t", func(ctx context.Context) error {
		return errors.New("always fails")
	})
	cfg.RestartDelay = time.Millisecond
	cfg.MaxRestartAttempts = 2
	cfg.RestartWindow = time.Minute
	cfg.Escalate = func(name string, err error) {
		escalated <- name
	}

	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case name := <-escalated:
		if name != "t" {
			t.Fatalf("got %q, want %q", name, "t")
		}
	case <-time.After(time.Second):
		t.Fatal("expected escalation")
	}
}

func TestSupervisorRecoversFromPanic(t *testing.T) {
	var calls int
	done := make(chan struct{})
	cfg := DefaultConfig("t", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		close(done)
		<-ctx.Done()
		return nil
	})
	cfg.RestartDelay = 10 * time.Millisecond

	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not recover from panic")
	}
	cancel()
	s.Stop()
}

func TestStopCancelsRunningTask(t *testing.T) {
	started := make(chan struct{})
	cfg := DefaultConfig("t", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	s := New(cfg)
	s.Start(context.Background())
	<-started
	s.Stop()
	if got := s.Status(); got != StatusStopped {
		t.Fatalf("got status %v, want %v", got, StatusStopped)
	}
}
