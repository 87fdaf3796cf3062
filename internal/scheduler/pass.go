package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/metrics"
)

// checkPass sweeps every digest candidate once. Users are processed
// sequentially and so are a user's schedules: the queue handle of one
// firing is waited on before the next claim, which keeps claim writes to
// the same record from colliding with each other.
func (r *Runner) checkPass(ctx context.Context) error {
	now := r.now()

	users, err := r.users.ListDigestCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list digest candidates: %w", err)
	}

	var due, fired int
	for _, u := range users {
		loc, err := u.Location()
		if err != nil {
			r.logger.Warn("unresolvable user time zone, skipping user",
				"user_id", u.ID,
				"timezone", u.Timezone,
			)
			continue
		}

		for _, d := range u.Digests {
			if !d.Enabled {
				continue
			}
			if !Due(d, loc, now, r.tolerance) {
				continue
			}
			// Cheap pre-filter on the batch-read record. The claim repeats
			// this check against a fresh reload; this one only avoids
			// pointless writes.
			if AlreadyRan(d.LastRun, now, loc) {
				continue
			}

			due++
			if r.runDigest(ctx, u.ID, u.Email, d, loc, now) {
				fired++
			}
		}
	}

	if due > 0 {
		r.logger.Info("check pass finished",
			"candidates", len(users),
			"due", due,
			"fired", fired,
		)
	}
	return nil
}

// runDigest claims one occurrence and executes it, reporting whether the
// execution succeeded. Every abandon path leaves the record untouched for
// a later tick or the winning process.
func (r *Runner) runDigest(ctx context.Context, userID, email string, d domain.DigestSchedule, loc *time.Location, now time.Time) bool {
	logger := r.logger.With("user_id", userID, "digest_id", d.ID, "digest_name", d.Name)

	fresh, err := r.claim(ctx, userID, d.ID, now, loc)
	switch {
	case errors.Is(err, domain.ErrDigestAlreadyRan):
		metrics.ClaimsAbandonedTotal.WithLabelValues("already_ran").Inc()
		logger.Debug("digest already claimed for today")
		return false
	case errors.Is(err, domain.ErrDigestDisabled):
		metrics.ClaimsAbandonedTotal.WithLabelValues("disabled").Inc()
		logger.Debug("digest disabled between batch read and claim")
		return false
	case errors.Is(err, domain.ErrDigestNotFound):
		metrics.ClaimsAbandonedTotal.WithLabelValues("removed").Inc()
		logger.Debug("digest removed between batch read and claim")
		return false
	case errors.Is(err, domain.ErrVersionConflict):
		metrics.ClaimsAbandonedTotal.WithLabelValues("conflict").Inc()
		logger.Warn("claim lost after retries, leaving occurrence for next tick", "error", err)
		return false
	case err != nil:
		metrics.ClaimsAbandonedTotal.WithLabelValues("error").Inc()
		logger.Error("claim digest occurrence", "error", err)
		return false
	}

	claimed := fresh.Digest(d.ID)
	if claimed == nil {
		// Unreachable after a successful claim; guard anyway.
		return false
	}

	handle, err := r.queue.Enqueue(ctx,
		fmt.Sprintf("digest %s/%s", userID, d.ID),
		func(jobCtx context.Context) error {
			_, err := r.exec.Execute(jobCtx, fresh, *claimed)
			return err
		},
	)
	if err != nil {
		metrics.DigestsFiredTotal.WithLabelValues("failure").Inc()
		logger.Error("enqueue digest execution", "error", err)
		return false
	}

	if err := handle.Wait(ctx); err != nil {
		metrics.DigestsFiredTotal.WithLabelValues("failure").Inc()
		// The claim marker stays. Same-day retries risk duplicate emails,
		// and a missed digest is the cheaper failure.
		logger.Error("digest execution failed, occurrence lost for today", "error", err)
		return false
	}

	metrics.DigestsFiredTotal.WithLabelValues("success").Inc()
	logger.Info("digest fired", "email", email)
	return true
}

// claim persists the last-run marker onto a freshly reloaded record before
// anything executes. The precondition re-runs the idempotency guard on
// every reload, so losing a race to another process surfaces as
// domain.ErrDigestAlreadyRan instead of a second firing.
func (r *Runner) claim(ctx context.Context, userID, digestID string, now time.Time, loc *time.Location) (*domain.User, error) {
	pre := func(u *domain.User) error {
		d := u.Digest(digestID)
		if d == nil {
			return domain.ErrDigestNotFound
		}
		if !d.Enabled {
			return domain.ErrDigestDisabled
		}
		if AlreadyRan(d.LastRun, now, loc) {
			return domain.ErrDigestAlreadyRan
		}
		return nil
	}
	return r.saver.ApplyIf(ctx, userID, domain.ClaimDigestRun(digestID, now), pre)
}
