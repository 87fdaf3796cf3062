package repository

import (
	"context"
	"time"
)

// LeaseRepository mediates the scheduler lease that keeps concurrent
// deployments from running the check pass twice. Contention is an expected
// outcome and is reported as (false, nil), never as an error.
type LeaseRepository interface {
	// Acquire takes the lease if it is free, expired, or already held by
	// this holder (re-acquiring extends the TTL). It reports whether the
	// caller now owns the lease.
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)

	// Heartbeat pushes the expiry of a lease this holder still owns. It
	// reports false when the lease expired or changed hands in the meantime.
	Heartbeat(ctx context.Context, lockID, holder string, extend time.Duration) (bool, error)

	// Release drops the lease if this holder still owns it.
	Release(ctx context.Context, lockID, holder string) error

	// CleanupExpired removes leases past their expiry so abandoned rows do
	// not linger. Acquire treats expired rows as free either way; this is
	// hygiene, not correctness.
	CleanupExpired(ctx context.Context) (int, error)
}
