package eventbus

import "time"

// Event types published by the cycle loop.
const (
	TypeCycleWaiting  = "cycle.waiting"
	TypeCycleStarted  = "cycle.started"
	TypeAttemptDone   = "cycle.attempt"
	TypeStopRequested = "cycle.stop"
	TypeCycleFinished = "cycle.finished"
)

// CycleWaiting is published before the loop sleeps until the next run.
type CycleWaiting struct {
	Next time.Time `json:"next"`
}

type CycleStarted struct {
	Cycle int       `json:"cycle"`
	At    time.Time `json:"at"`
}

// AttemptDone carries one action outcome. Outcome is the retry.Outcome string.
type AttemptDone struct {
	Cycle   int           `json:"cycle"`
	Attempt int           `json:"attempt"`
	Outcome string        `json:"outcome"`
	Took    time.Duration `json:"took"`
}

// StopRequested is published when the stop signal flips. Source is "tone"
// or "telegram".
type StopRequested struct {
	Cycle  int    `json:"cycle"`
	Source string `json:"source"`
}

type CycleFinished struct {
	Cycle           int           `json:"cycle"`
	Attempts        int           `json:"attempts"`
	Connected       int           `json:"connected"`
	TimedOutRinging int           `json:"timed_out_ringing"`
	Failed          int           `json:"failed"`
	StoppedBy       string        `json:"stopped_by,omitempty"`
	Took            time.Duration `json:"took"`
}
