package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dialtone/internal/eventbus"
	"dialtone/internal/retry"
	"dialtone/internal/stopsignal"
	"dialtone/internal/tone"
	logx "dialtone/pkg/logx"
)

// fakeWaiter returns at once for the first `ready` calls, then blocks until ctx ends.
type fakeWaiter struct {
	next    time.Time
	ready   int
	calls   atomic.Int32
	blocked chan struct{}
	once    sync.Once
}

func (w *fakeWaiter) Next() time.Time { return w.next }

func (w *fakeWaiter) WaitUntil(ctx context.Context) (time.Time, error) {
	if int(w.calls.Add(1)) <= w.ready {
		return w.next, nil
	}
	w.once.Do(func() { close(w.blocked) })
	<-ctx.Done()
	return time.Time{}, ctx.Err()
}

// toneOnCue raises the signal as the tone detector would, once cue closes.
type toneOnCue struct {
	cue    chan struct{}
	exited atomic.Bool
}

func (d *toneOnCue) Run(ctx context.Context, sig *stopsignal.Signal) error {
	defer d.exited.Store(true)
	select {
	case <-ctx.Done():
	case <-d.cue:
		sig.Set(tone.SourceTone)
	}
	return nil
}

func waitSignal(t *testing.T, sig *stopsignal.Signal) {
	t.Helper()
	select {
	case <-sig.Done():
	case <-time.After(2 * time.Second):
		t.Errorf("signal was not raised")
	}
}

func collect(ch <-chan eventbus.Event) []string {
	var types []string
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestLoopStopsCycleOnToneAndWaitsForNextDay(t *testing.T) {
	t.Parallel()

	sig := &stopsignal.Signal{}
	det := &toneOnCue{cue: make(chan struct{})}
	var attempts atomic.Int32
	action := retry.ActionFunc(func(ctx context.Context) retry.Outcome {
		if attempts.Add(1) == 2 {
			close(det.cue)
			waitSignal(t, sig)
			return retry.Connected
		}
		return retry.TimedOutRinging
	})

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	w := &fakeWaiter{next: time.Date(2026, 1, 2, 7, 30, 0, 0, time.UTC), ready: 1, blocked: make(chan struct{})}
	status := NewStatus()
	l := &Loop{
		Wait:     w,
		Detector: det,
		Action:   action,
		Signal:   sig,
		Bus:      bus,
		Status:   status,
		Log:      logx.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-w.blocked:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not go back to waiting")
	}

	snap := status.Snapshot()
	if snap.Phase != PhaseWaiting || snap.LastCycle == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.LastCycle.Attempts != 2 || snap.LastCycle.Connected != 1 || snap.LastCycle.TimedOutRinging != 1 {
		t.Fatalf("last cycle = %+v", *snap.LastCycle)
	}
	if snap.StoppedBy != tone.SourceTone {
		t.Fatalf("stopped by %q", snap.StoppedBy)
	}
	if !det.exited.Load() {
		t.Fatalf("detector was not joined before the next wait")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil on shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if got := status.Snapshot().Phase; got != PhaseStopped {
		t.Fatalf("phase = %s", got)
	}

	types := collect(events)
	want := map[string]int{
		eventbus.TypeCycleWaiting:  2,
		eventbus.TypeCycleStarted:  1,
		eventbus.TypeAttemptDone:   2,
		eventbus.TypeStopRequested: 1,
		eventbus.TypeCycleFinished: 1,
	}
	got := map[string]int{}
	for _, typ := range types {
		got[typ]++
	}
	for typ, n := range want {
		if got[typ] != n {
			t.Errorf("%s events = %d, want %d (all: %v)", typ, got[typ], n, types)
		}
	}
}

func TestRunCycleResetsStaleSignal(t *testing.T) {
	t.Parallel()

	sig := &stopsignal.Signal{}
	sig.Set("telegram") // left over from the previous cycle

	var attempts int
	l := &Loop{
		Signal: sig,
		Action: retry.ActionFunc(func(ctx context.Context) retry.Outcome {
			attempts++
			sig.Set(SourceTelegram)
			return retry.Failed
		}),
		Log: logx.Nop(),
	}
	stats, err := l.RunCycle(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunCycle = %v", err)
	}
	if attempts != 1 || stats.Attempts != 1 || stats.Failed != 1 {
		t.Fatalf("attempts = %d, stats = %+v", attempts, stats)
	}
}

func TestRunCycleBeatsHeartbeatPerAttempt(t *testing.T) {
	t.Parallel()

	mt := &manualTime{t: time.Date(2026, 6, 10, 1, 25, 0, 0, time.UTC)}
	hb := NewHeartbeat(mt.now)
	sig := &stopsignal.Signal{}
	l := &Loop{
		Signal:    sig,
		Heartbeat: hb,
		Action: retry.ActionFunc(func(ctx context.Context) retry.Outcome {
			mt.add(5 * time.Minute)
			sig.Set(SourceTelegram)
			return retry.Failed
		}),
		Log: logx.Nop(),
	}
	if _, err := l.RunCycle(context.Background(), 1); err != nil {
		t.Fatalf("RunCycle = %v", err)
	}
	if age := hb.Age(); age != 0 {
		t.Fatalf("heartbeat age = %s after the attempt, want 0", age)
	}
}

func TestRunCycleShutdownMidAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	det := &toneOnCue{cue: make(chan struct{})}
	l := &Loop{
		Signal:   &stopsignal.Signal{},
		Detector: det,
		Action: retry.ActionFunc(func(ctx context.Context) retry.Outcome {
			cancel()
			<-ctx.Done()
			return retry.Failed
		}),
		Log: logx.Nop(),
	}
	_, err := l.RunCycle(ctx, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunCycle = %v, want context.Canceled", err)
	}
	if !det.exited.Load() {
		t.Fatalf("detector still running after cycle returned")
	}
	if l.Status.Snapshot().StoppedBy != "" {
		t.Fatalf("shutdown should not record a stop source")
	}
}

func TestLoopRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if err := (&Loop{}).Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty loop")
	}
}
