package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dialtone/internal/stopsignal"
	kit "dialtone/internal/transport"
	logx "dialtone/pkg/logx"
)

// SourceTelegram tags stop requests that came from the operator chat.
const SourceTelegram = "telegram"

const replyTimeout = 10 * time.Second

// commandHandler answers operator commands. /stop is a second producer of the
// cycle's stop signal alongside the tone detector.
type commandHandler struct {
	sig    *stopsignal.Signal
	status *Status
	reply  kit.Sender
	log    logx.Logger
	now    func() time.Time
}

func (h *commandHandler) Run(ctx context.Context, cmds <-chan kit.Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			text := h.handle(cmd)
			if text == "" {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, replyTimeout)
			err := h.reply.SendText(rctx, kit.ChatTarget{ChatID: cmd.ChatID}, text, nil)
			cancel()
			if err != nil {
				h.log.Warn("command reply failed", logx.String("cmd", cmd.Name), logx.Err(err))
			}
		}
	}
}

func (h *commandHandler) handle(cmd kit.Command) string {
	h.log.Info("operator command", logx.String("cmd", cmd.Name), logx.Int64("from_id", cmd.FromID))
	switch cmd.Name {
	case "stop":
		snap := h.status.Snapshot()
		if snap.Phase != PhaseCalling {
			return "No cycle is running."
		}
		if h.sig.Set(SourceTelegram) {
			return fmt.Sprintf("Stopping cycle %d after the current attempt.", snap.Cycle)
		}
		src, _ := h.sig.Cause()
		return fmt.Sprintf("Cycle %d is already stopping (%s).", snap.Cycle, src)
	case "status":
		return h.status.Snapshot().Text(h.now())
	case "help":
		return strings.Join([]string{
			"/stop - stop calling for today",
			"/status - show the current cycle",
		}, "\n")
	default:
		return ""
	}
}
