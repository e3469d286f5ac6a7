package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	logx "dialtone/pkg/logx"
)

const (
	DefaultCallURL        = "https://voice.google.com/u/0/calls"
	DefaultDialInputID    = "il1"
	DefaultInCallSelector = `span[gv-test-id="in-call-callduration"]`
	DefaultRingingXPath   = `//span[text()="Calling…" and @aria-hidden="false"]`
	DefaultPageTimeout    = 20 * time.Second
)

// DefaultHangUpSelectors are tried in order; the first visible match is clicked.
var DefaultHangUpSelectors = []string{
	"span.mat-ripple.mat-mdc-button-ripple",
	"span.mat-focus-indicator",
	"span.mat-mdc-button-touch-target",
}

// ChromeConfig drives a Chrome instance that reuses the operator's signed-in profile.
type ChromeConfig struct {
	ExecPath    string // empty: let chromedp find Chrome
	UserDataDir string
	Profile     string
	Headless    bool

	CallURL         string
	PageTimeout     time.Duration
	DialInputID     string
	InCallSelector  string
	RingingXPath    string
	HangUpSelectors []string
}

func (c *ChromeConfig) applyDefaults() {
	if c.CallURL == "" {
		c.CallURL = DefaultCallURL
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.DialInputID == "" {
		c.DialInputID = DefaultDialInputID
	}
	if c.InCallSelector == "" {
		c.InCallSelector = DefaultInCallSelector
	}
	if c.RingingXPath == "" {
		c.RingingXPath = DefaultRingingXPath
	}
	if len(c.HangUpSelectors) == 0 {
		c.HangUpSelectors = DefaultHangUpSelectors
	}
}

// CheckExecPath verifies a configured browser binary exists. An empty path is
// accepted; chromedp then searches the usual install locations.
func (c ChromeConfig) CheckExecPath() error {
	if strings.TrimSpace(c.ExecPath) == "" {
		return nil
	}
	if _, err := os.Stat(c.ExecPath); err != nil {
		return fmt.Errorf("browser binary %q: %w", c.ExecPath, err)
	}
	return nil
}

// NewChromeFactory returns a BrowserFactory launching one Chrome per attempt.
func NewChromeFactory(cfg ChromeConfig, log logx.Logger) BrowserFactory {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context) (Browser, error) {
		return openChrome(ctx, cfg, log)
	}
}

type chromeSession struct {
	cfg ChromeConfig
	log logx.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func openChrome(ctx context.Context, cfg ChromeConfig, log logx.Logger) (*chromeSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.Profile != "" {
		opts = append(opts, chromedp.Flag("profile-directory", cfg.Profile))
	}

	// The browser outlives the attempt context so the hang-up can still run
	// after shutdown cancels the attempt; Close ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Debug("chromedp", logx.String("msg", fmt.Sprintf(format, args...)))
	}))
	// Launch now so a missing binary surfaces as an attempt failure.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(bctx)
	stopped := stop()
	if err == nil && !stopped {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &chromeSession{cfg: cfg, log: log, ctx: bctx, cancel: cancel, allocCancel: allocCancel}, nil
}

// run executes actions on the browser tab, bounded by timeout and ctx.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (s *chromeSession) Dial(ctx context.Context, number string) error {
	id := s.cfg.DialInputID
	return s.run(ctx, s.cfg.PageTimeout,
		chromedp.Navigate(s.cfg.CallURL),
		chromedp.WaitVisible(id, chromedp.ByID),
		chromedp.Clear(id, chromedp.ByID),
		chromedp.SendKeys(id, number, chromedp.ByID),
		chromedp.Sleep(time.Second),
		chromedp.SendKeys(id, kb.Enter, chromedp.ByID),
	)
}

func (s *chromeSession) State(ctx context.Context) (CallState, error) {
	var inCall, ringing []*cdp.Node
	err := s.run(ctx, s.cfg.PageTimeout,
		chromedp.Nodes(s.cfg.InCallSelector, &inCall, chromedp.ByQueryAll, chromedp.AtLeast(0)),
		chromedp.Nodes(s.cfg.RingingXPath, &ringing, chromedp.BySearch, chromedp.AtLeast(0)),
	)
	switch {
	case err != nil:
		return StateDialing, err
	case len(inCall) > 0:
		return StateInCall, nil
	case len(ringing) > 0:
		return StateRinging, nil
	default:
		return StateDialing, nil
	}
}

// HangUp clicks the first visible hang-up control. A real mouse click is tried
// first; a DOM click() is the fallback for controls that intercept pointer events.
func (s *chromeSession) HangUp(ctx context.Context) error {
	for _, sel := range s.cfg.HangUpSelectors {
		q := jsString(sel)
		var idx int
		findVisible := fmt.Sprintf(
			`[...document.querySelectorAll(%s)].findIndex(e => e.getClientRects().length > 0)`, q)
		if err := s.run(ctx, hangUpTimeout, chromedp.Evaluate(findVisible, &idx)); err != nil {
			return fmt.Errorf("find hang-up control %q: %w", sel, err)
		}
		if idx < 0 {
			continue
		}

		var nodes []*cdp.Node
		err := s.run(ctx, hangUpTimeout, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
		if err == nil && idx < len(nodes) {
			if err = s.run(ctx, hangUpTimeout, chromedp.MouseClickNode(nodes[idx])); err == nil {
				return nil
			}
		}
		s.log.Debug("mouse click on hang-up failed; using DOM click", logx.String("selector", sel), logx.Err(err))

		var clicked bool
		jsClick := fmt.Sprintf(`(() => { const e = document.querySelectorAll(%s)[%d]; if (!e) return false; e.click(); return true; })()`, q, idx)
		if err := s.run(ctx, hangUpTimeout, chromedp.Evaluate(jsClick, &clicked)); err != nil {
			return fmt.Errorf("click hang-up control %q: %w", sel, err)
		}
		if clicked {
			return nil
		}
	}
	return errors.New("no visible hang-up control")
}

func (s *chromeSession) Close() error {
	// Cancel closes the tab and browser gracefully; allocCancel kills the process.
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
