// Package app wires the daemon: configuration, logging, the call cycle loop
// and its optional operator channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"

	"dialtone/internal/clock"
	"dialtone/internal/config"
	"dialtone/internal/dialer"
	"dialtone/internal/eventbus"
	"dialtone/internal/media"
	"dialtone/internal/notifier"
	"dialtone/internal/retry"
	rtsup "dialtone/internal/runtime/supervisor"
	"dialtone/internal/stopsignal"
	"dialtone/internal/tone"
	kit "dialtone/internal/transport"
	"dialtone/internal/transport/telegram"
	logx "dialtone/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfgPath string
	cfg     *config.Config
	set     config.Settings

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	library *media.Library
	loop    *Loop
	status  *Status
	sig     *stopsignal.Signal
	sd      *sdNotifier

	adapter  kit.Adapter // nil when telegram is disabled
	notif    *notifier.Service
	commands *commandHandler
}

// New loads the config and builds every collaborator. Any error here is a
// configuration error and should stop the process.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	var ad *telegram.Adapter
	if cfg.Telegram.Enabled {
		bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
		ad, err = telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			PollTimeout:  set.TelegramPoll,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			ChatID:       cfg.Telegram.ChatID,
		}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}

	var sender kit.Sender
	if ad != nil {
		sender = ad
	}
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, sender)

	a, err := build(cfg, set, log, logSvc)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	if ad != nil {
		a.adapter = ad
		a.notif = notifier.New(notifier.Config{
			Target:     kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
			RatePerSec: set.NotifyRate,
		}, ad, log.With(logx.String("comp", "notifier")))
		a.commands = &commandHandler{
			sig:    a.sig,
			status: a.status,
			reply:  ad,
			log:    log.With(logx.String("comp", "commands")),
			now:    time.Now,
		}
	}
	return a, nil
}

func build(cfg *config.Config, set config.Settings, log logx.Logger, logSvc *logx.Service) (*App, error) {
	target, err := clock.ParseTarget(set.Time, set.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: call.time: %w", config.ErrInvalid, err)
	}
	if target, err = target.WithDays(set.Days); err != nil {
		return nil, fmt.Errorf("%w: call.days: %w", config.ErrInvalid, err)
	}

	library, err := media.NewLibrary(set.AudioDir, set.Extensions, log.With(logx.String("comp", "media")))
	if err != nil {
		return nil, err
	}

	fallback := media.NewFFPlay()
	if len(set.FallbackPlayer) > 0 {
		fallback = &media.CommandPlayer{Bin: set.FallbackPlayer[0], Args: set.FallbackPlayer[1:]}
	}
	if !fallback.Available() {
		log.Warn("fallback player not found on PATH", logx.String("bin", fallback.Bin))
	}
	player := &media.FallbackPlayer{
		Primary:  &media.SpeakerPlayer{Rate: beep.SampleRate(set.SpeakerRate)},
		Fallback: fallback,
		Log:      log.With(logx.String("comp", "player")),
	}

	chrome := dialer.ChromeConfig{
		ExecPath:        set.Browser.ExecPath,
		UserDataDir:     set.Browser.UserDataDir,
		Profile:         set.Browser.Profile,
		Headless:        set.Browser.Headless,
		CallURL:         set.Browser.CallURL,
		PageTimeout:     set.PageTimeout,
		HangUpSelectors: set.Browser.HangUpSelectors,
	}
	if err := chrome.CheckExecPath(); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	clk := clock.Real()
	dialCfg := dialer.Config{
		PhoneNumber:  set.PhoneNumber,
		RingTimeout:  set.MaxRing,
		PollInterval: set.StatePoll,
	}
	dl, err := dialer.New(dialCfg, dialer.NewChromeFactory(chrome, log.With(logx.String("comp", "browser"))),
		library, player, clk, log.With(logx.String("comp", "dialer")))
	if err != nil {
		return nil, err
	}

	var det Detector
	if set.DetectorEnabled {
		d, err := tone.NewDetector(tone.Config{
			Frequency:  set.FrequencyHz,
			SampleRate: set.SampleRate,
			BlockSize:  set.BlockSize,
			Threshold:  set.PowerThreshold,
		}, &tone.PortAudioInput{
			DeviceMatch: set.Device,
			Log:         log.With(logx.String("comp", "audio")),
		}, log.With(logx.String("comp", "tone")))
		if err != nil {
			return nil, fmt.Errorf("%w: detector: %w", config.ErrInvalid, err)
		}
		det = d
	} else {
		log.Warn("tone detector disabled; only /stop or shutdown ends a cycle")
	}

	bus := eventbus.New()
	status := NewStatus()
	sig := &stopsignal.Signal{}
	cycleLog := log.With(logx.String("comp", "cycle"))
	hb := NewHeartbeat(nil)

	log.Info("configured",
		logx.String("call", dialCfg.String()),
		logx.String("target", target.String()),
		logx.Duration("redial_delay", set.RedialDelay),
		logx.Int("clips", len(library.Clips())),
		logx.Bool("detector", det != nil),
	)

	return &App{
		cfg:     cfg,
		set:     set,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		library: library,
		status:  status,
		sig:     sig,
		sd:      newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")), hb, watchdogIdle(set)),
		loop: &Loop{
			Wait: &clock.Daily{
				Clock:        clk,
				Target:       target,
				PollInterval: set.PollInterval,
				Log:          cycleLog,
				OnPoll:       hb.Beat,
			},
			Detector: det,
			Action:   dl,
			Scheduler: retry.Scheduler{
				Clock:       clk,
				RedialDelay: set.RedialDelay,
			},
			Signal:    sig,
			Bus:       bus,
			Status:    status,
			Log:       cycleLog,
			Heartbeat: hb,
		},
	}, nil
}

// maxClipLength bounds the playback part of one attempt for the watchdog.
const maxClipLength = 10 * time.Minute

// watchdogIdle is the longest the loop may go without a heartbeat: one poll
// while waiting, or one full attempt (page loads, ring, clip, hang-up) plus
// the redial pause while calling.
func watchdogIdle(set config.Settings) time.Duration {
	attempt := 4*set.PageTimeout + set.MaxRing + maxClipLength + set.RedialDelay
	return max(2*set.PollInterval, attempt)
}

// Run starts the background services and runs the cycle loop until ctx ends.
func (a *App) Run(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))

	sup.GoRestart("media.watch", a.library.Watch, rtsup.WithRestartBackoff(time.Second, time.Minute))

	if a.adapter != nil {
		cmds := make(chan kit.Command, 16)
		if err := a.adapter.Start(sup.Context(), cmds); err != nil {
			sup.Cancel()
			return fmt.Errorf("telegram start: %w", err)
		}
		sup.Go("commands", func(c context.Context) error { return a.commands.Run(c, cmds) })

		events, unsub := a.bus.Subscribe(64)
		sup.Go("notifier", func(c context.Context) error {
			defer unsub()
			return a.notif.Run(c, events)
		})
	}

	statusEvents, unsubStatus := a.bus.Subscribe(16)
	sup.Go0("systemd.status", func(c context.Context) {
		defer unsubStatus()
		a.sd.RunStatus(c, a.status, statusEvents)
	})
	sup.Go0("systemd.watchdog", a.sd.RunWatchdog)

	debugEvents, unsubDebug := a.bus.Subscribe(64)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubDebug()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-debugEvents:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sd.Ready()
	a.log.Info("started", logx.String("config", a.cfgPath))

	err := a.loop.Run(sup.Context())

	a.sd.Stopping()
	a.log.Info("stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.adapter != nil {
		_ = a.adapter.Stop(sctx)
	}
	if serr := sup.Stop(sctx); serr != nil && !errors.Is(serr, context.Canceled) {
		a.log.Warn("background services did not stop cleanly", logx.Err(serr))
	}
	return err
}

// Close flushes and closes log sinks.
func (a *App) Close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

// ListDevices prints capture devices, for picking detector.device.
func ListDevices() (string, error) {
	devs, err := tone.ListDevices()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, d := range devs {
		mark := " "
		if d.IsDefault {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %2d  %-40s  %-12s  ch=%d  %.0f Hz\n", mark, d.Index, d.Name, d.HostAPI, d.Channels, d.SampleRate)
	}
	return b.String(), nil
}
