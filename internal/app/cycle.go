package app

import (
	"context"
	"errors"
	"time"

	"dialtone/internal/eventbus"
	"dialtone/internal/retry"
	rtsup "dialtone/internal/runtime/supervisor"
	"dialtone/internal/stopsignal"
	logx "dialtone/pkg/logx"
)

// Waiter blocks until the next daily run. clock.Daily implements it.
type Waiter interface {
	Next() time.Time
	WaitUntil(ctx context.Context) (time.Time, error)
}

// Detector raises the stop signal when the operator's tone is heard.
// tone.Detector implements it.
type Detector interface {
	Run(ctx context.Context, sig *stopsignal.Signal) error
}

const defaultJoinTimeout = 5 * time.Second

// Loop is the daily cycle: wait for the run time, reset the stop signal,
// start the detector, redial until the signal is raised, join the detector.
type Loop struct {
	Wait      Waiter
	Detector  Detector // nil runs cycles without tone detection
	Action    retry.Action
	Scheduler retry.Scheduler
	Signal    *stopsignal.Signal
	Bus       eventbus.Bus
	Status    *Status
	Log       logx.Logger
	Heartbeat *Heartbeat // nil: no liveness tracking

	JoinTimeout time.Duration
}

// Run repeats cycles until ctx ends. It returns nil on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	if l.Wait == nil || l.Action == nil || l.Signal == nil {
		return errors.New("cycle loop: waiter, action and signal are required")
	}
	if l.Status == nil {
		l.Status = NewStatus()
	}
	for n := 1; ; n++ {
		l.Heartbeat.Beat()
		next := l.Wait.Next()
		l.Status.update(func(s *StatusSnapshot) {
			s.Phase = PhaseWaiting
			s.NextRun = next
		})
		l.publish(eventbus.TypeCycleWaiting, eventbus.CycleWaiting{Next: next})

		if _, err := l.Wait.WaitUntil(ctx); err != nil {
			return l.stopped(err)
		}
		if _, err := l.RunCycle(ctx, n); err != nil {
			return l.stopped(err)
		}
	}
}

func (l *Loop) stopped(err error) error {
	l.Status.update(func(s *StatusSnapshot) { s.Phase = PhaseStopped })
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RunCycle runs one cycle immediately. The error is ctx's when the process is
// shutting down mid-cycle.
func (l *Loop) RunCycle(ctx context.Context, n int) (retry.Stats, error) {
	log := l.Log.With(logx.Int("cycle", n))
	if l.Status == nil {
		l.Status = NewStatus()
	}

	// Reset before any producer of this cycle starts.
	l.Signal.Reset()
	l.Heartbeat.Beat()

	started := time.Now()
	l.Status.update(func(s *StatusSnapshot) {
		s.Phase = PhaseCalling
		s.Cycle = n
		s.StartedAt = started
		s.Attempts = 0
		s.LastOutcome = ""
	})
	l.publish(eventbus.TypeCycleStarted, eventbus.CycleStarted{Cycle: n, At: started})
	log.Info("cycle started")

	sup := rtsup.New(ctx, rtsup.WithLogger(log))
	if l.Detector != nil {
		sup.Go("tone.detector", func(c context.Context) error {
			return l.Detector.Run(c, l.Signal)
		})
	}
	sup.Go0("stop.announce", func(c context.Context) {
		select {
		case <-c.Done():
		case <-l.Signal.Done():
		}
		// both may be ready at join time
		if l.Signal.IsSet() {
			src, _ := l.Signal.Cause()
			l.publish(eventbus.TypeStopRequested, eventbus.StopRequested{Cycle: n, Source: src})
		}
	})

	sched := l.Scheduler
	if sched.Log.IsZero() {
		sched.Log = log
	}
	sched.OnAttempt = func(attempt int, o retry.Outcome, took time.Duration) {
		l.Heartbeat.Beat()
		l.Status.update(func(s *StatusSnapshot) {
			s.Attempts = attempt
			s.LastOutcome = o.String()
		})
		l.publish(eventbus.TypeAttemptDone, eventbus.AttemptDone{Cycle: n, Attempt: attempt, Outcome: o.String(), Took: took})
	}
	stats, runErr := sched.Run(ctx, l.Action, l.Signal)

	join := l.JoinTimeout
	if join <= 0 {
		join = defaultJoinTimeout
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), join)
	if err := sup.Stop(jctx); err != nil {
		log.Warn("cycle goroutines did not stop cleanly", logx.Err(err))
	}
	cancel()

	var by string
	if l.Signal.IsSet() {
		by, _ = l.Signal.Cause()
	}
	l.Status.update(func(s *StatusSnapshot) {
		st := stats
		s.LastCycle = &st
		s.StoppedBy = by
	})
	l.publish(eventbus.TypeCycleFinished, eventbus.CycleFinished{
		Cycle:           n,
		Attempts:        stats.Attempts,
		Connected:       stats.Connected,
		TimedOutRinging: stats.TimedOutRinging,
		Failed:          stats.Failed,
		StoppedBy:       by,
		Took:            time.Since(started),
	})
	log.Info("cycle finished",
		logx.Int("attempts", stats.Attempts),
		logx.Int("connected", stats.Connected),
		logx.Int("timed_out_ringing", stats.TimedOutRinging),
		logx.Int("failed", stats.Failed),
		logx.String("stopped_by", by),
	)
	return stats, runErr
}

func (l *Loop) publish(typ string, data any) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
