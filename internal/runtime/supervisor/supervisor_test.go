package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "dialtone/pkg/logx"
)

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("bad", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("panics", func(ctx context.Context) { panic("nope") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if s.Context().Err() == nil {
		t.Fatalf("cancel-on-error did not cancel the context")
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Panics != 1 || tasks[0].Active != 0 {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestStopJoinsBlockedGoroutines(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var exited atomic.Bool
	s.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		exited.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v, want nil (canceled is a clean stop)", err)
	}
	if !exited.Load() {
		t.Fatalf("goroutine was not joined")
	}
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Restarts != 2 {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected final error")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}
