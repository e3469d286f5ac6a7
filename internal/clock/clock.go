// Package clock computes the daily run time and waits for it.
//
// Waiting is coarse polling against a timezone-aware clock: every poll
// re-derives "now" instead of counting elapsed time, so daylight-saving shifts
// and suspend/resume do not skew the wake-up.
package clock

import (
	"time"
	_ "time/tzdata" // timezone names must resolve on hosts without a zoneinfo database
)

// Clock is the time source used by waits. Tests swap in clocktest.Fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Real returns the wall clock.
func Real() Clock { return realClock{} }
