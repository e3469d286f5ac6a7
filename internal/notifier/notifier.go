// Package notifier turns cycle events into operator messages.
package notifier

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"dialtone/internal/eventbus"
	kit "dialtone/internal/transport"
	logx "dialtone/pkg/logx"
)

const sendTimeout = 10 * time.Second

type Config struct {
	Target     kit.ChatTarget
	RatePerSec int
	// Attempts reports every attempt outcome, not only cycle boundaries.
	Attempts bool
}

// Service reads events from the bus and sends them through a Sender.
// Send failures are logged and never reach the cycle loop.
type Service struct {
	cfg     Config
	sender  kit.Sender
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Run consumes events until ctx ends or the channel closes.
func (s *Service) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			text, ok := s.Format(e)
			if !ok {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := s.sender.SendText(sctx, s.cfg.Target, text, &kit.SendOptions{DisablePreview: true})
			cancel()
			if err != nil {
				s.log.Warn("notification failed", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

// Format renders an event. It reports false for events that are not sent.
func (s *Service) Format(e eventbus.Event) (string, bool) {
	switch d := e.Data.(type) {
	case eventbus.CycleWaiting:
		return fmt.Sprintf("Next call cycle at %s", d.Next.Format("Mon 02 Jan 15:04 MST")), true
	case eventbus.CycleStarted:
		return fmt.Sprintf("Cycle %d started: calling until the stop tone", d.Cycle), true
	case eventbus.StopRequested:
		return fmt.Sprintf("Cycle %d: stop requested (%s)", d.Cycle, d.Source), true
	case eventbus.AttemptDone:
		if !s.cfg.Attempts {
			return "", false
		}
		return fmt.Sprintf("Cycle %d attempt %d: %s after %s", d.Cycle, d.Attempt, d.Outcome, d.Took.Round(time.Second)), true
	case eventbus.CycleFinished:
		by := d.StoppedBy
		if by == "" {
			by = "shutdown"
		}
		return fmt.Sprintf("Cycle %d finished (%s) after %d attempts in %s: %d connected, %d unanswered, %d failed",
			d.Cycle, by, d.Attempts, d.Took.Round(time.Second), d.Connected, d.TimedOutRinging, d.Failed), true
	default:
		return "", false
	}
}
