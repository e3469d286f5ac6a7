package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Target is a time of day in a fixed timezone, optionally limited to some
// weekdays. The zero Days mask means every day.
type Target struct {
	Hour     int
	Minute   int
	Location *time.Location

	days string
	dow  uint64 // bit per time.Weekday; 0 = every day
}

// ParseTarget parses "HH:MM" and an IANA timezone name ("US/Eastern", "UTC", ...).
func ParseTarget(hhmm, tz string) (Target, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return Target{}, err
	}
	name := strings.TrimSpace(tz)
	if name == "" {
		name = "Local"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Target{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return NewTarget(h, m, loc)
}

// NewTarget builds a Target from parts. A nil location means time.Local.
func NewTarget(hour, minute int, loc *time.Location) (Target, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Target{}, fmt.Errorf("invalid time of day %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.Local
	}
	return Target{Hour: hour, Minute: minute, Location: loc}, nil
}

// WithDays limits the target to the weekdays of a cron day-of-week field,
// e.g. "MON-FRI" or "0,6". "" and "*" mean every day.
func (t Target) WithDays(spec string) (Target, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		t.days, t.dow = "", 0
		return t, nil
	}
	sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * %s", t.Minute, t.Hour, spec))
	if err != nil {
		return Target{}, fmt.Errorf("invalid days %q: %w", spec, err)
	}
	ss, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Target{}, fmt.Errorf("invalid days %q", spec)
	}
	t.days = spec
	t.dow = ss.Dow & 0x7f
	return t, nil
}

func (t Target) runsOn(wd time.Weekday) bool {
	return t.dow == 0 || t.dow&(1<<uint(wd)) != 0
}

// Next returns the first run strictly after now. A calendar day has at most
// one run: once today's run instant has passed, the next is on a later date,
// even when the wall time repeats at a fall-back transition. A wall time
// skipped by a spring-forward transition runs at the same instant the
// pre-transition offset gives (02:30 EST becomes 03:30 EDT).
func (t Target) Next(now time.Time) time.Time {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	for i := 0; i < 8; i++ {
		// noon never falls in a transition, so it normalises the date safely
		day := time.Date(y, m, d+i, 12, 0, 0, 0, loc)
		if !t.runsOn(day.Weekday()) {
			continue
		}
		dy, dm, dd := day.Date()
		if run := wallInstant(dy, dm, dd, t.Hour, t.Minute, loc); run.After(now) {
			return run
		}
	}
	// unreachable with a non-empty mask: a week always contains a run day
	return time.Date(y, m, d+1, t.Hour, t.Minute, 0, 0, loc)
}

// wallInstant resolves a wall clock time on a calendar date to one instant.
// A repeated wall time resolves to its earlier occurrence. A missing wall time
// is shifted forward by the gap.
func wallInstant(y int, m time.Month, d, hour, minute int, loc *time.Location) time.Time {
	wall := time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
	noon := time.Date(y, m, d, 12, 0, 0, 0, loc)
	before := offsetAt(noon.Add(-36*time.Hour), loc)
	after := offsetAt(noon.Add(36*time.Hour), loc)

	var best time.Time
	for _, off := range []int{before, after} {
		c := wall.Add(-time.Duration(off) * time.Second).In(loc)
		cy, cm, cd := c.Date()
		if cy != y || cm != m || cd != d || c.Hour() != hour || c.Minute() != minute {
			continue
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	if best.IsZero() {
		return wall.Add(-time.Duration(before) * time.Second).In(loc)
	}
	return best
}

func offsetAt(at time.Time, loc *time.Location) int {
	_, off := at.In(loc).Zone()
	return off
}

func (t Target) String() string {
	name := "Local"
	if t.Location != nil {
		name = t.Location.String()
	}
	s := fmt.Sprintf("%02d:%02d %s", t.Hour, t.Minute, name)
	if t.days != "" {
		s += " " + t.days
	}
	return s
}

func parseHHMM(s string) (int, int, error) {
	m := reHHMM.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return h, mm, nil
}
