package domain

import "time"

// Lease is the TTL-bounded ownership record that grants one process
// exclusive rights to run the digest check pass. At most one row exists per
// LockID; an expired row is free for anyone to take over in place.
type Lease struct {
	LockID      string
	Holder      string // "hostname-pid" of the owning process
	AcquiredAt  time.Time
	ExpiresAt   time.Time
	HeartbeatAt time.Time
}

// Expired reports whether the lease is up for grabs at the given instant.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
