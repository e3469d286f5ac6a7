package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dialtone/internal/stopsignal"
	kit "dialtone/internal/transport"
	logx "dialtone/pkg/logx"
)

type replySender struct {
	mu      sync.Mutex
	replies []string
	to      []int64
}

func (r *replySender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	r.to = append(r.to, to.ChatID)
	return nil
}

func newHandler() (*commandHandler, *replySender) {
	rs := &replySender{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &commandHandler{
		sig:    &stopsignal.Signal{},
		status: NewStatus(),
		reply:  rs,
		log:    logx.Nop(),
		now:    func() time.Time { return now },
	}, rs
}

func TestStopOutsideCycleIsIgnored(t *testing.T) {
	t.Parallel()

	h, _ := newHandler()
	h.status.update(func(s *StatusSnapshot) { s.Phase = PhaseWaiting })
	if got := h.handle(kit.Command{Name: "stop"}); !strings.Contains(got, "No cycle") {
		t.Fatalf("reply = %q", got)
	}
	if h.sig.IsSet() {
		t.Fatalf("signal set outside a cycle")
	}
}

func TestStopDuringCycleRaisesSignalOnce(t *testing.T) {
	t.Parallel()

	h, _ := newHandler()
	h.status.update(func(s *StatusSnapshot) {
		s.Phase = PhaseCalling
		s.Cycle = 4
	})

	if got := h.handle(kit.Command{Name: "stop"}); !strings.Contains(got, "Stopping cycle 4") {
		t.Fatalf("first reply = %q", got)
	}
	if src, _ := h.sig.Cause(); src != SourceTelegram {
		t.Fatalf("source = %q", src)
	}
	if got := h.handle(kit.Command{Name: "stop"}); !strings.Contains(got, "already stopping") {
		t.Fatalf("second reply = %q", got)
	}
}

func TestStatusAndUnknownCommands(t *testing.T) {
	t.Parallel()

	h, _ := newHandler()
	h.status.update(func(s *StatusSnapshot) {
		s.Phase = PhaseCalling
		s.Cycle = 2
		s.StartedAt = h.now().Add(-90 * time.Second)
		s.Attempts = 3
		s.LastOutcome = "timed_out_ringing"
	})
	got := h.handle(kit.Command{Name: "status"})
	for _, want := range []string{"Phase: calling", "Cycle 2 running for 1m30s", "Attempts: 3", "timed_out_ringing"} {
		if !strings.Contains(got, want) {
			t.Errorf("status %q missing %q", got, want)
		}
	}
	if got := h.handle(kit.Command{Name: "reboot"}); got != "" {
		t.Fatalf("unknown command reply = %q", got)
	}
}

func TestRunRepliesToCommandChat(t *testing.T) {
	t.Parallel()

	h, rs := newHandler()
	cmds := make(chan kit.Command, 2)
	cmds <- kit.Command{Name: "help", ChatID: 77}
	cmds <- kit.Command{Name: "ignored", ChatID: 77}
	close(cmds)

	if err := h.Run(context.Background(), cmds); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if len(rs.replies) != 1 || rs.to[0] != 77 || !strings.Contains(rs.replies[0], "/stop") {
		t.Fatalf("replies = %q to %v", rs.replies, rs.to)
	}
}
