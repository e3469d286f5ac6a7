// Package telegram is the operator channel: it receives /stop, /status and
// /help from allowed users and sends notifications back.
package telegram

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "dialtone/internal/runtime/supervisor"
	kit "dialtone/internal/transport"
	logx "dialtone/pkg/logx"
)

// Commands understood by the daemon, in menu order.
var Commands = []tele.Command{
	{Text: "stop", Description: "stop calling for today"},
	{Text: "status", Description: "show the current cycle"},
	{Text: "help", Description: "list commands"},
}

type Config struct {
	Token        string
	PollTimeout  time.Duration
	OwnerUserIDs []int64 // empty means anyone in ChatID
	ChatID       int64   // 0 means any chat
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- kit.Command
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Command
	a.out.Store(nilOut)
	for _, c := range Commands {
		a.bot.Handle("/"+c.Text, a.handle)
	}
	return a, nil
}

func (a *Adapter) handle(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	cmd, ok := parseCommand(m.Text)
	if !ok {
		return nil
	}
	cmd.ChatID = m.Chat.ID
	cmd.FromID = m.Sender.ID
	if !a.allowed(cmd) {
		a.log.Warn("command from unknown user ignored",
			logx.String("cmd", cmd.Name),
			logx.Int64("from_id", cmd.FromID),
			logx.Int64("chat_id", cmd.ChatID),
		)
		return nil
	}
	a.forward(cmd)
	return nil
}

// allowed refuses everyone when neither owners nor a chat are configured.
func (a *Adapter) allowed(cmd kit.Command) bool {
	if a.cfg.ChatID == 0 && len(a.cfg.OwnerUserIDs) == 0 {
		return false
	}
	if a.cfg.ChatID != 0 && cmd.ChatID != a.cfg.ChatID && !slices.Contains(a.cfg.OwnerUserIDs, cmd.ChatID) {
		return false
	}
	if len(a.cfg.OwnerUserIDs) == 0 {
		return true
	}
	return slices.Contains(a.cfg.OwnerUserIDs, cmd.FromID)
}

func (a *Adapter) forward(cmd kit.Command) {
	out, _ := a.out.Load().(chan<- kit.Command)
	if out == nil {
		return
	}
	select {
	case out <- cmd:
	default:
		a.dropped.Add(1)
	}
}

// parseCommand splits "/stop@mybot now" into name "stop" and args "now".
func parseCommand(text string) (kit.Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return kit.Command{}, false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if name == "" {
		return kit.Command{}, false
	}
	return kit.Command{Name: name, Args: strings.TrimSpace(args)}, true
}

// Start begins long polling. Commands are delivered to out without blocking;
// a full channel drops them.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Command) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	if err := a.bot.SetCommands(Commands); err != nil {
		a.log.Warn("set menu commands failed", logx.Err(err))
	}

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.Go0("telebot.drop_report", func(c context.Context) {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("commands dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	})
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop never blocks shutdown for longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Command
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
