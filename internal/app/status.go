package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"dialtone/internal/retry"
)

type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseWaiting  Phase = "waiting"
	PhaseCalling  Phase = "calling"
	PhaseStopped  Phase = "stopped"
)

// StatusSnapshot is what /status and sd_notify STATUS report.
type StatusSnapshot struct {
	Phase       Phase
	Cycle       int
	NextRun     time.Time
	StartedAt   time.Time
	Attempts    int
	LastOutcome string
	StoppedBy   string
	LastCycle   *retry.Stats
}

// Status is the live cycle state, written by the loop and read by operators.
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func NewStatus() *Status {
	return &Status{snap: StatusSnapshot{Phase: PhaseStarting}}
}

func (s *Status) update(fn func(*StatusSnapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	if out.LastCycle != nil {
		st := *out.LastCycle
		out.LastCycle = &st
	}
	return out
}

// Line is a one-line summary, used for systemd STATUS=.
func (s StatusSnapshot) Line() string {
	switch s.Phase {
	case PhaseWaiting:
		return "waiting for " + s.NextRun.Format("2006-01-02 15:04 MST")
	case PhaseCalling:
		return fmt.Sprintf("cycle %d: calling, %d attempts", s.Cycle, s.Attempts)
	default:
		return string(s.Phase)
	}
}

// Text is the multi-line /status reply.
func (s StatusSnapshot) Text(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", s.Phase)
	switch s.Phase {
	case PhaseWaiting:
		fmt.Fprintf(&b, "Next cycle: %s (in %s)\n",
			s.NextRun.Format("Mon 02 Jan 15:04 MST"), s.NextRun.Sub(now).Round(time.Minute))
	case PhaseCalling:
		fmt.Fprintf(&b, "Cycle %d running for %s\n", s.Cycle, now.Sub(s.StartedAt).Round(time.Second))
		fmt.Fprintf(&b, "Attempts: %d", s.Attempts)
		if s.LastOutcome != "" {
			fmt.Fprintf(&b, " (last: %s)", s.LastOutcome)
		}
		b.WriteString("\n")
	}
	if lc := s.LastCycle; lc != nil {
		by := s.StoppedBy
		if by == "" {
			by = "shutdown"
		}
		fmt.Fprintf(&b, "Last cycle: %d attempts, %d connected, %d unanswered, %d failed (stopped by %s)\n",
			lc.Attempts, lc.Connected, lc.TimedOutRinging, lc.Failed, by)
	}
	return strings.TrimRight(b.String(), "\n")
}
