// Package stopsignal holds the per-cycle cancellation flag shared by the tone
// detector, the operator transport and the retry loop.
package stopsignal

import (
	"sync"
	"sync/atomic"
	"time"
)

// Signal is a set-once flag for one scheduling cycle.
//
// Within a cycle it only moves false -> true. The owner of the cycle calls
// Reset before starting the next cycle's producers. The zero value is ready to
// use.
type Signal struct {
	set atomic.Bool

	mu     sync.Mutex
	done   chan struct{}
	setAt  time.Time
	source string
}

// Set raises the signal and reports whether this call changed it.
func (s *Signal) Set(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set.Load() {
		return false
	}
	s.setAt = time.Now()
	s.source = source
	s.set.Store(true)
	close(s.doneLocked())
	return true
}

// IsSet is a lock-free read; visibility within one polling interval is enough for callers.
func (s *Signal) IsSet() bool { return s.set.Load() }

// Done returns a channel closed when the signal is raised. The channel belongs
// to the current cycle; fetch it again after Reset.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneLocked()
}

// Reset clears the signal for a new cycle.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set.Load() && s.done != nil {
		return
	}
	s.set.Store(false)
	s.done = make(chan struct{})
	s.setAt = time.Time{}
	s.source = ""
}

// Cause reports who raised the signal and when. Empty when unset.
func (s *Signal) Cause() (source string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source, s.setAt
}

func (s *Signal) doneLocked() chan struct{} {
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}
