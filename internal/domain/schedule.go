package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDigestNotFound        = errors.New("digest schedule not found")
	ErrDigestNameConflict    = errors.New("a digest schedule with this name already exists")
	ErrDigestLimit           = errors.New("digest schedule limit reached")
	ErrDigestAlreadyRan      = errors.New("digest schedule already ran today")
	ErrDigestDisabled        = errors.New("digest schedule is disabled")
	ErrDigestAlreadyEnabled  = errors.New("digest schedule is already enabled")
	ErrDigestAlreadyDisabled = errors.New("digest schedule is already disabled")

	ErrInvalidClock    = errors.New("invalid schedule time, want HH:MM")
	ErrInvalidWeekday  = errors.New("invalid weekday name")
	ErrInvalidTimezone = errors.New("invalid IANA time zone")
	ErrNoName          = errors.New("digest schedule needs a name")
	ErrNoTopics        = errors.New("digest schedule needs at least one topic")
	ErrNoDays          = errors.New("digest schedule needs at least one weekday")
)

// DigestSchedule is one user-configured recurring digest, embedded in the
// User record. It fires at Time (the user's local wall clock) on each
// weekday in Days, covering Topics.
//
// LastRun is the claim marker: the engine persists the claim instant here
// before executing anything, and it is the only writer of the field.
// Preference edits must leave it untouched.
//
// The json tags are the storage encoding inside the users.digests column.
type DigestSchedule struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Time    string     `json:"time"` // local wall clock, "HH:MM"
	Days    []string   `json:"days"` // canonical weekday names: "Monday", ...
	Topics  []string   `json:"topics"`
	Enabled bool       `json:"isEnabled"`
	LastRun *time.Time `json:"lastRun"`
}

// MinuteOfDay parses Time into minutes since local midnight.
func (d DigestSchedule) MinuteOfDay() (int, error) {
	h, m, err := ParseClock(d.Time)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// RunsOn reports whether the schedule covers the given weekday. Day names
// that fail to parse are ignored; creation-time validation keeps them out.
func (d DigestSchedule) RunsOn(day time.Weekday) bool {
	for _, name := range d.Days {
		wd, err := ParseWeekday(name)
		if err != nil {
			continue
		}
		if wd == day {
			return true
		}
	}
	return false
}

// CronSpec renders the schedule as a standard five-field cron expression
// ("M H * * DOW,..."). It exists for next-occurrence previews; due-ness is
// decided by the scheduler's matcher, not by cron.
func (d DigestSchedule) CronSpec() (string, error) {
	h, m, err := ParseClock(d.Time)
	if err != nil {
		return "", err
	}
	if len(d.Days) == 0 {
		return "", ErrNoDays
	}
	dows := make([]string, 0, len(d.Days))
	for _, name := range d.Days {
		wd, err := ParseWeekday(name)
		if err != nil {
			return "", err
		}
		dows = append(dows, strconv.Itoa(int(wd)))
	}
	return fmt.Sprintf("%d %d * * %s", m, h, strings.Join(dows, ",")), nil
}

// ParseClock parses a 24-hour "HH:MM" wall-clock string. Both fields must
// be two digits; "7:30" is rejected rather than guessed at.
func ParseClock(s string) (hour, minute int, err error) {
	// time.Parse alone would accept a single-digit hour.
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour(), t.Minute(), nil
}

// NormalizeDays canonicalizes weekday names ("monday" → "Monday"), dropping
// duplicates while keeping first-seen order.
func NormalizeDays(days []string) ([]string, error) {
	if len(days) == 0 {
		return nil, ErrNoDays
	}
	var seen [7]bool
	out := make([]string, 0, len(days))
	for _, name := range days {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd.String())
	}
	return out, nil
}

// ParseWeekday maps a case-insensitive full weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
}
