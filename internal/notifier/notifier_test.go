package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dialtone/internal/eventbus"
	kit "dialtone/internal/transport"
	logx "dialtone/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
	err  error
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return r.err
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestRunSendsCycleEvents(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{}
	target := kit.ChatTarget{ChatID: 99, ThreadID: 3}
	s := New(Config{Target: target, RatePerSec: 100}, snd, logx.Nop())

	events := make(chan eventbus.Event, 4)
	events <- eventbus.Event{Type: eventbus.TypeCycleStarted, Data: eventbus.CycleStarted{Cycle: 2}}
	events <- eventbus.Event{Type: eventbus.TypeAttemptDone, Data: eventbus.AttemptDone{Cycle: 2, Attempt: 1, Outcome: "failed"}}
	events <- eventbus.Event{Type: eventbus.TypeStopRequested, Data: eventbus.StopRequested{Cycle: 2, Source: "tone"}}
	events <- eventbus.Event{Type: eventbus.TypeCycleFinished, Data: eventbus.CycleFinished{Cycle: 2, Attempts: 3, Connected: 1, Failed: 2, StoppedBy: "tone"}}
	close(events)

	if err := s.Run(context.Background(), events); err != nil {
		t.Fatalf("Run = %v", err)
	}
	got := snd.texts()
	if len(got) != 3 {
		t.Fatalf("sent %d messages, want 3 (attempts are off): %q", len(got), got)
	}
	if !strings.Contains(got[1], "tone") || !strings.Contains(got[2], "3 attempts") {
		t.Fatalf("unexpected texts: %q", got)
	}
	if snd.to[0] != target {
		t.Fatalf("target = %+v", snd.to[0])
	}
}

func TestRunKeepsGoingAfterSendError(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{err: errors.New("telegram down")}
	s := New(Config{RatePerSec: 100, Attempts: true}, snd, logx.Nop())

	events := make(chan eventbus.Event, 2)
	events <- eventbus.Event{Data: eventbus.AttemptDone{Cycle: 1, Attempt: 1, Outcome: "connected"}}
	events <- eventbus.Event{Data: eventbus.AttemptDone{Cycle: 1, Attempt: 2, Outcome: "connected"}}
	close(events)

	if err := s.Run(context.Background(), events); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if n := len(snd.texts()); n != 2 {
		t.Fatalf("sent %d, want 2", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &recordingSender{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, make(chan eventbus.Event)) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestFormatFinishedWithoutStopSource(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop())
	text, ok := s.Format(eventbus.Event{Data: eventbus.CycleFinished{Cycle: 1}})
	if !ok || !strings.Contains(text, "shutdown") {
		t.Fatalf("Format = %q, %v", text, ok)
	}
	if _, ok := s.Format(eventbus.Event{Data: "unknown"}); ok {
		t.Fatalf("unknown payload should be skipped")
	}
}
