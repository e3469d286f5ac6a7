package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dialtone/internal/eventbus"
	logx "dialtone/pkg/logx"
)

// Heartbeat records the last time the cycle loop made progress.
type Heartbeat struct {
	last atomic.Int64 // unix nanos; 0 = never
	now  func() time.Time
}

func NewHeartbeat(now func() time.Time) *Heartbeat {
	if now == nil {
		now = time.Now
	}
	h := &Heartbeat{now: now}
	h.Beat()
	return h
}

// Beat is safe on a nil Heartbeat.
func (h *Heartbeat) Beat() {
	if h == nil {
		return
	}
	h.last.Store(h.now().UnixNano())
}

// Age is the time since the last Beat.
func (h *Heartbeat) Age() time.Duration {
	return h.now().Sub(time.Unix(0, h.last.Load()))
}

// sdNotifier reports readiness, status and watchdog pings to systemd.
// Outside a Type=notify unit every call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	// With a heartbeat, pings stop once it is older than maxIdle
	// (never less than the watchdog interval) so systemd restarts a hung loop.
	hb      *Heartbeat
	maxIdle time.Duration
}

func newSDNotifier(enabled bool, log logx.Logger, hb *Heartbeat, maxIdle time.Duration) *sdNotifier {
	return &sdNotifier{
		enabled:  enabled,
		log:      log,
		hb:       hb,
		maxIdle:  maxIdle,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Trace("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()             { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()          { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Status(line string) { n.send("STATUS=" + line) }

// RunWatchdog pings at half the WatchdogSec interval until ctx ends, as long
// as the loop heartbeat is fresh.
func (n *sdNotifier) RunWatchdog(ctx context.Context) {
	if !n.enabled {
		return
	}
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	idle := max(n.maxIdle, interval)
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	stalled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n.hb != nil {
				if age := n.hb.Age(); age > idle {
					if !stalled {
						n.log.Error("cycle loop made no progress; withholding watchdog ping",
							logx.Duration("idle", age), logx.Duration("limit", idle))
						stalled = true
					}
					continue
				}
			}
			if stalled {
				n.log.Info("cycle loop progressing again")
				stalled = false
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// RunStatus mirrors cycle events into STATUS= lines.
func (n *sdNotifier) RunStatus(ctx context.Context, status *Status, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			n.Status(status.Snapshot().Line())
		}
	}
}
