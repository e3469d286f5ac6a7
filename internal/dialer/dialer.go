// Package dialer places one call per attempt through a browser-driven web
// call UI and plays a clip once the call is answered.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialtone/internal/clock"
	"dialtone/internal/media"
	"dialtone/internal/retry"
	logx "dialtone/pkg/logx"
)

// CallState is what the call UI currently shows.
type CallState int

const (
	StateDialing CallState = iota // number submitted, no ringing indicator yet
	StateRinging
	StateInCall
)

func (s CallState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateInCall:
		return "in_call"
	default:
		return "unknown"
	}
}

// Browser is one automation session against the call UI.
type Browser interface {
	Dial(ctx context.Context, number string) error
	State(ctx context.Context) (CallState, error)
	HangUp(ctx context.Context) error
	Close() error
}

// BrowserFactory opens a fresh session for one attempt.
type BrowserFactory func(ctx context.Context) (Browser, error)

// ClipSource hands out the clip to play when a call connects.
type ClipSource interface {
	Pick() (string, error)
}

var ErrPhoneNumberRequired = errors.New("phone number is required")

const (
	DefaultRingTimeout  = 15 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	hangUpTimeout       = 10 * time.Second
)

type Config struct {
	PhoneNumber  string
	RingTimeout  time.Duration
	PollInterval time.Duration
}

// Dialer implements retry.Action.
type Dialer struct {
	cfg    Config
	open   BrowserFactory
	clips  ClipSource
	player media.Player
	clock  clock.Clock
	log    logx.Logger
}

func New(cfg Config, open BrowserFactory, clips ClipSource, player media.Player, clk clock.Clock, log logx.Logger) (*Dialer, error) {
	if strings.TrimSpace(cfg.PhoneNumber) == "" {
		return nil, ErrPhoneNumberRequired
	}
	if open == nil || clips == nil || player == nil {
		return nil, errors.New("dialer: browser factory, clip source and player are required")
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dialer{cfg: cfg, open: open, clips: clips, player: player, clock: clk, log: log}, nil
}

// Attempt runs Dialing -> {InCall, Ringing} -> terminal for one call.
//
// InCall plays a clip and yields Connected. Still ringing once RingTimeout has
// passed yields TimedOutRinging. Browser errors, and a call that never shows a
// ringing indicator within RingTimeout, yield Failed. The call is always hung
// up and the session closed.
func (d *Dialer) Attempt(ctx context.Context) retry.Outcome {
	b, err := d.open(ctx)
	if err != nil {
		d.log.Warn("browser session failed to start", logx.Err(err))
		return retry.Failed
	}
	defer func() {
		if err := b.Close(); err != nil {
			d.log.Debug("browser close failed", logx.Err(err))
		}
	}()
	defer d.hangUp(ctx, b)

	if err := b.Dial(ctx, d.cfg.PhoneNumber); err != nil {
		d.log.Warn("dial failed", logx.Err(err))
		return retry.Failed
	}
	d.log.Info("call placed", logx.String("number", maskNumber(d.cfg.PhoneNumber)))

	started := d.clock.Now()
	last := StateDialing
	for {
		st, err := b.State(ctx)
		if err != nil {
			d.log.Warn("call state unavailable", logx.Err(err), logx.String("state", last.String()))
			return retry.Failed
		}
		if st != last {
			d.log.Debug("call state changed", logx.String("from", last.String()), logx.String("to", st.String()))
			last = st
		}

		if st == StateInCall {
			d.playClip(ctx)
			return retry.Connected
		}
		if waited := d.clock.Now().Sub(started); waited >= d.cfg.RingTimeout {
			if st == StateRinging {
				d.log.Info("no answer; ring timeout", logx.Duration("waited", waited))
				return retry.TimedOutRinging
			}
			d.log.Warn("call never started ringing", logx.Duration("waited", waited))
			return retry.Failed
		}

		select {
		case <-ctx.Done():
			return retry.Failed
		case <-d.clock.After(d.cfg.PollInterval):
		}
	}
}

// playClip errors are logged only: a connected call counts as completed either way.
func (d *Dialer) playClip(ctx context.Context) {
	clip, err := d.clips.Pick()
	if err != nil {
		d.log.Error("no clip to play", logx.Err(err))
		return
	}
	d.log.Info("call connected; playing clip", logx.String("clip", clip))
	if err := d.player.Play(ctx, clip); err != nil {
		d.log.Error("playback failed", logx.String("clip", clip), logx.Err(err))
	}
}

func (d *Dialer) hangUp(ctx context.Context, b Browser) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangUpTimeout)
	defer cancel()
	if err := b.HangUp(hctx); err != nil {
		d.log.Warn("hang up failed", logx.Err(err))
	}
}

// maskNumber keeps the last four digits for logs.
func maskNumber(n string) string {
	n = strings.TrimSpace(n)
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

func (c Config) String() string {
	return fmt.Sprintf("number=%s ring_timeout=%s poll=%s", maskNumber(c.PhoneNumber), c.RingTimeout, c.PollInterval)
}
