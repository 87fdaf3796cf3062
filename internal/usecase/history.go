package usecase

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryUsecase reads back the digests the engine has recorded.
type HistoryUsecase struct {
	users   repository.UserRepository
	digests repository.DigestRepository
}

func NewHistoryUsecase(users repository.UserRepository, digests repository.DigestRepository) *HistoryUsecase {
	return &HistoryUsecase{users: users, digests: digests}
}

type ListHistoryInput struct {
	UserID   string
	DigestID string
	Limit    int
}

// ListHistory returns the most recent digests produced for one of the
// caller's schedules, newest first. The schedule must still exist on the
// user record; history for deleted schedules is not reachable through the
// API even though the rows survive until retention sweeps them.
func (u *HistoryUsecase) ListHistory(ctx context.Context, input ListHistoryInput) ([]*domain.Digest, error) {
	user, err := u.users.GetByID(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Digest(input.DigestID) == nil {
		return nil, domain.ErrDigestNotFound
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	digests, err := u.digests.ListBySchedule(ctx, input.UserID, input.DigestID, limit)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	return digests, nil
}
