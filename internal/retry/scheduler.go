// Package retry runs the attempt/redial loop for one scheduled cycle.
package retry

import (
	"context"
	"errors"
	"time"

	"dialtone/internal/clock"
	"dialtone/internal/stopsignal"
	logx "dialtone/pkg/logx"
)

var (
	ErrNilAction = errors.New("retry: nil action")
	ErrNilSignal = errors.New("retry: nil stop signal")
)

// Stats summarizes one Run.
type Stats struct {
	Attempts        int
	Connected       int
	TimedOutRinging int
	Failed          int
	Started         time.Time
	Finished        time.Time
}

func (s *Stats) record(o Outcome) {
	s.Attempts++
	switch o {
	case Connected:
		s.Connected++
	case TimedOutRinging:
		s.TimedOutRinging++
	default:
		s.Failed++
	}
}

// Scheduler repeats an Action until the stop signal is raised.
//
// There is no attempt cap and the outcome never ends the loop; only the signal
// (or ctx, on shutdown) does. An attempt already in flight when the signal is
// raised runs to completion, so at most one extra attempt follows the signal.
type Scheduler struct {
	Clock       clock.Clock
	RedialDelay time.Duration
	Log         logx.Logger

	// OnAttempt, if set, is called after every attempt. Must not block.
	OnAttempt func(n int, o Outcome, took time.Duration)
}

// Run loops: check signal, attempt, wait RedialDelay, repeat.
func (s *Scheduler) Run(ctx context.Context, action Action, sig *stopsignal.Signal) (Stats, error) {
	if action == nil {
		return Stats{}, ErrNilAction
	}
	if sig == nil {
		return Stats{}, ErrNilSignal
	}
	c := s.Clock
	if c == nil {
		c = clock.Real()
	}
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	st := Stats{Started: c.Now()}

	for {
		if sig.IsSet() {
			src, _ := sig.Cause()
			log.Info("stop signal received; cycle finished",
				logx.String("source", src), logx.Int("attempts", st.Attempts))
			st.Finished = c.Now()
			return st, nil
		}
		if err := ctx.Err(); err != nil {
			st.Finished = c.Now()
			return st, err
		}

		n := st.Attempts + 1
		began := c.Now()
		out := action.Attempt(ctx)
		took := c.Now().Sub(began)
		st.record(out)

		fields := []logx.Field{logx.Int("attempt", n), logx.String("outcome", out.String()), logx.Duration("took", took)}
		if out == Failed {
			log.Warn("attempt failed; will redial", fields...)
		} else {
			log.Info("attempt finished", fields...)
		}
		if s.OnAttempt != nil {
			s.OnAttempt(n, out, took)
		}

		if s.RedialDelay > 0 && !sig.IsSet() && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-sig.Done():
			case <-c.After(s.RedialDelay):
			}
		}
	}
}
