package clock

import (
	"context"
	"time"

	logx "dialtone/pkg/logx"
)

const DefaultPollInterval = 30 * time.Second

// Daily blocks until the next occurrence of Target.
type Daily struct {
	Clock        Clock
	Target       Target
	PollInterval time.Duration
	Log          logx.Logger

	// OnPoll, if set, runs on every poll. Must not block.
	OnPoll func()
}

func (d *Daily) clock() Clock {
	if d.Clock == nil {
		return Real()
	}
	return d.Clock
}

// Next reports the run time WaitUntil would wait for right now.
func (d *Daily) Next() time.Time { return d.Target.Next(d.clock().Now()) }

// WaitUntil computes the next run time and polls until it is reached.
// It returns the run time it waited for, or ctx's error.
func (d *Daily) WaitUntil(ctx context.Context) (time.Time, error) {
	c := d.clock()
	poll := d.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	runAt := d.Target.Next(c.Now())
	if !d.Log.IsZero() {
		d.Log.Info("waiting for next run", logx.Time("run_at", runAt), logx.String("target", d.Target.String()))
	}

	for {
		if d.OnPoll != nil {
			d.OnPoll()
		}
		remaining := runAt.Sub(c.Now())
		if remaining <= 0 {
			if !d.Log.IsZero() {
				d.Log.Info("target time reached", logx.Time("run_at", runAt))
			}
			return runAt, nil
		}
		select {
		case <-ctx.Done():
			return runAt, ctx.Err()
		case <-c.After(min(poll, remaining)):
		}
	}
}
