package retry

import "context"

// Outcome is the result of one attempt.
type Outcome int

const (
	// Failed: the attempt hit an external error. Logged, then retried.
	Failed Outcome = iota
	// TimedOutRinging: nobody answered within the ring timeout.
	TimedOutRinging
	// Connected: the call was answered and the clip was played.
	Connected
)

func (o Outcome) String() string {
	switch o {
	case Connected:
		return "connected"
	case TimedOutRinging:
		return "timed_out_ringing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action performs one externally visible attempt (one placed call).
//
// Attempt blocks until the attempt reaches a terminal state and is bounded by
// the implementation's own ring timeout. It never returns an error: failures
// are reported as Failed.
type Action interface {
	Attempt(ctx context.Context) Outcome
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context) Outcome

func (f ActionFunc) Attempt(ctx context.Context) Outcome { return f(ctx) }
