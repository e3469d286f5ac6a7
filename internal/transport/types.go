package transport

import "context"

// ChatTarget addresses a chat (and optional forum thread) on the operator channel.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Command is an operator command received from the transport.
type Command struct {
	Name   string // without leading slash, lower-case
	Args   string
	ChatID int64
	FromID int64
}

// Sender is the outbound half of a transport. logx and the notifier only need this.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// Adapter is a full operator transport.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Command) error
	Stop(ctx context.Context) error
}
