package scheduler

import (
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

// DefaultTolerance is the slack between a schedule's target minute and the
// instant a check pass actually looks. It must be at least half the check
// interval, or a target minute could fall between two passes and never
// fire.
const DefaultTolerance = 5 * time.Minute

// Due reports whether the schedule should fire at the instant now for a
// user in loc. It is a pure function of its inputs: now is rendered into
// the user's wall clock, the local weekday must be in the schedule's day
// set, and the distance between the local minute-of-day and the scheduled
// minute-of-day must be within tolerance. Day boundaries are handled by
// weekday membership alone; a schedule's Time is an absolute clock time,
// never an offset, so 23:58 and 00:03 are 235 minutes apart, not 5.
func Due(d domain.DigestSchedule, loc *time.Location, now time.Time, tolerance time.Duration) bool {
	target, err := d.MinuteOfDay()
	if err != nil {
		// Malformed times are rejected on create; anything that slips
		// through is simply never due.
		return false
	}

	local := now.In(loc)
	if !d.RunsOn(local.Weekday()) {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	delta := minute - target
	if delta < 0 {
		delta = -delta
	}
	return delta <= int(tolerance/time.Minute)
}
