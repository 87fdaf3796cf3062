package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LeaseRepository struct {
	pool *pgxpool.Pool
}

func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository {
	return &LeaseRepository{pool: pool}
}

// Acquire takes the lease atomically: insert if no row exists, otherwise
// steal it only when it has expired or we already hold it. The WHERE clause
// makes the update a no-op against a live foreign lease, which Postgres
// reports as zero affected rows.
func (r *LeaseRepository) Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO scheduler_locks (lock_id, holder, acquired_at, expires_at, heartbeat_at)
		 VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3), NOW())
		 ON CONFLICT (lock_id) DO UPDATE
		 SET holder       = EXCLUDED.holder,
		     acquired_at  = EXCLUDED.acquired_at,
		     expires_at   = EXCLUDED.expires_at,
		     heartbeat_at = EXCLUDED.heartbeat_at
		 WHERE scheduler_locks.expires_at <= NOW()
		    OR scheduler_locks.holder = $2`,
		lockID, holder, ttl.Seconds(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Two first-time inserts raced; the other process won.
			return false, nil
		}
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Heartbeat extends a lease this holder still owns. An expired lease is not
// revived: the holder lost it and has to go through Acquire again.
func (r *LeaseRepository) Heartbeat(ctx context.Context, lockID, holder string, extend time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduler_locks
		 SET expires_at = NOW() + make_interval(secs => $3), heartbeat_at = NOW()
		 WHERE lock_id = $1 AND holder = $2 AND expires_at > NOW()`,
		lockID, holder, extend.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeaseRepository) Release(ctx context.Context, lockID, holder string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM scheduler_locks WHERE lock_id = $1 AND holder = $2`,
		lockID, holder,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *LeaseRepository) CleanupExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM scheduler_locks WHERE expires_at <= NOW()`,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
