// Package clocktest provides a manual clock for tests.
package clocktest

import (
	"sync"
	"time"
)

// Fake is a clock whose After advances time instantly by the requested duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	onWait func(d time.Duration)
}

func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After advances the clock by d and returns an already-fired channel.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.waits = append(f.waits, d)
	now := f.now
	hook := f.onWait
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// OnWait installs a hook called (outside the lock) for every After call.
func (f *Fake) OnWait(fn func(d time.Duration)) {
	f.mu.Lock()
	f.onWait = fn
	f.mu.Unlock()
}

// Waits returns the durations passed to After so far.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}
