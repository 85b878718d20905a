// Package reminder owns the reminder lifecycle: the per-user registry, id
// generation, and the engine that fires reminders and re-schedules recurring ones.
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrDuplicateID      = errors.New("reminder id already exists")
	ErrNotFound         = errors.New("reminder not found")
	ErrInvalidRepeat    = errors.New("invalid repeat policy")
	ErrScheduleFailed   = errors.New("reminder scheduling failed")
	ErrIDSpaceExhausted = errors.New("could not generate a free reminder id")
)

// Repeat is a recurrence policy.
type Repeat string

const (
	RepeatNone   Repeat = "none"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// RepeatChoices is the prompt order shown to users.
var RepeatChoices = []Repeat{RepeatDaily, RepeatWeekly, RepeatNone}

// ParseRepeat normalizes user input case-insensitively. Anything outside
// daily/weekly/none is rejected with ErrInvalidRepeat.
func ParseRepeat(s string) (Repeat, error) {
	switch r := Repeat(strings.ToLower(strings.TrimSpace(s))); r {
	case RepeatNone, RepeatDaily, RepeatWeekly:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRepeat, s)
	}
}

// Recurring reports whether the policy produces another occurrence after firing.
func (r Repeat) Recurring() bool { return r == RepeatDaily || r == RepeatWeekly }

// Schedule returns the fixed-offset schedule for a recurring policy, or nil.
// Offsets are exact durations (24h, 168h), not calendar days.
func (r Repeat) Schedule() cron.Schedule {
	switch r {
	case RepeatDaily:
		return cron.Every(24 * time.Hour)
	case RepeatWeekly:
		return cron.Every(7 * 24 * time.Hour)
	default:
		return nil
	}
}

// Reminder is a named, timed notification request.
//
// Time is always UTC and is the next firing instant; the engine advances it in
// place for recurring reminders. FiredAt is set once a non-recurring reminder
// has fired and is no longer scheduled.
type Reminder struct {
	ID      string
	Name    string
	Time    time.Time
	Repeat  Repeat
	FiredAt time.Time
}

// Fired reports whether the reminder has retired after its only occurrence.
func (r Reminder) Fired() bool { return !r.FiredAt.IsZero() }

// TimeLayout is the accepted input format and the listing format.
const TimeLayout = "2006-01-02 15:04"

// ParseTime parses s in TimeLayout, interpreting it in loc, and normalizes to UTC.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
