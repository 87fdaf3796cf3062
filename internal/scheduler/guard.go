package scheduler

import "time"

// idempotencyWindow is deliberately under 24 hours: with the window at a
// full day, clock skew between processes could leave a schedule refusing
// to fire on the first valid tick of a new local day.
const idempotencyWindow = 23 * time.Hour

// AlreadyRan reports whether the schedule's last run counts as "today" for
// a user in loc: the last-run instant and now fall on the same local
// calendar date AND less than 23 hours apart. Different local dates never
// block a fire no matter how little wall-clock time has passed, so a user
// whose zone change starts a new local day early gets that day's digest.
//
// The check runs twice per firing: once against the batch-read record as a
// cheap pre-filter, and again inside the claim against a fresh reload.
func AlreadyRan(lastRun *time.Time, now time.Time, loc *time.Location) bool {
	if lastRun == nil {
		return false
	}

	ly, lm, ld := lastRun.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	if ly != ny || lm != nm || ld != nd {
		return false
	}
	return now.Sub(*lastRun) < idempotencyWindow
}
