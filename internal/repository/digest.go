package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

// DigestRepository stores produced digests for history and retention.
type DigestRepository interface {
	// Insert records a produced digest and returns it with the generated id
	// and creation time filled in.
	Insert(ctx context.Context, d *domain.Digest) (*domain.Digest, error)

	// ListBySchedule returns the newest digests of one schedule, newest
	// first.
	ListBySchedule(ctx context.Context, userID, scheduleID string, limit int) ([]*domain.Digest, error)

	// DeleteOlderThan prunes at most limit digests created before cutoff and
	// reports how many went.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
