package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/metrics"
)

// DefaultSaveAttempts bounds reconciliation under sustained contention.
const DefaultSaveAttempts = 3

// Precondition is evaluated against every freshly loaded copy of the record
// before the patch is applied, including the copies loaded on conflict
// retries. Returning an error abandons the save without writing. This is
// how the claim protocol re-checks the idempotency guard after losing a
// race instead of blindly reapplying its claim over the winner's.
type Precondition func(*domain.User) error

// Saver persists patches with optimistic-concurrency reconciliation: load a
// fresh record, check the precondition, apply the patch, write back
// version-checked. On domain.ErrVersionConflict the cycle repeats against a
// new copy, up to maxAttempts times.
type Saver struct {
	users       UserRepository
	maxAttempts int
	logger      *slog.Logger
}

func NewSaver(users UserRepository, maxAttempts int, logger *slog.Logger) *Saver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSaveAttempts
	}
	return &Saver{
		users:       users,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "saver"),
	}
}

// Apply persists the patch with no precondition.
func (s *Saver) Apply(ctx context.Context, userID string, patch domain.Patch) (*domain.User, error) {
	return s.ApplyIf(ctx, userID, patch, nil)
}

// ApplyIf persists the patch provided pre accepts each fresh copy, and
// returns the record as written. When attempts run out the error wraps
// domain.ErrVersionConflict; precondition and patch errors pass through
// unwrapped so callers can errors.Is on domain sentinels.
func (s *Saver) ApplyIf(ctx context.Context, userID string, patch domain.Patch, pre Precondition) (*domain.User, error) {
	var conflict error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}
		if pre != nil {
			if err := pre(u); err != nil {
				return nil, err
			}
		}
		if err := patch.Apply(u); err != nil {
			return nil, err
		}

		err = s.users.Update(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("save user %s: %w", userID, err)
		}
		conflict = err
		metrics.SaveConflictsTotal.Inc()
		s.logger.Debug("version conflict, reapplying patch to fresh record",
			"user_id", userID,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
		)
	}
	return nil, fmt.Errorf("save user %s: %d attempts exhausted: %w", userID, s.maxAttempts, conflict)
}
