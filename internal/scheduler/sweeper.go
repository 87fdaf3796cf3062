package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/metrics"
	"github.com/ErlanBelekov/daybrief/internal/repository"
)

const sweepBatch = 500

// Sweeper is the engine's janitor: it drops expired lease rows left behind
// by crashed holders and prunes digests past the retention window. Neither
// job is load-bearing — Acquire treats expired leases as free and history
// queries are limit-bounded — it keeps the tables from growing forever.
type Sweeper struct {
	leases    repository.LeaseRepository
	digests   repository.DigestRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewSweeper(
	leases repository.LeaseRepository,
	digests repository.DigestRepository,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *Sweeper {
	return &Sweeper{
		leases:    leases,
		digests:   digests,
		logger:    logger.With("component", "sweeper"),
		interval:  interval,
		retention: retention,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	expired, err := s.leases.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("cleanup expired leases", "error", err)
	} else if expired > 0 {
		metrics.SweptTotal.WithLabelValues("lease").Add(float64(expired))
		s.logger.Info("removed expired leases", "count", expired)
	}

	cutoff := time.Now().Add(-s.retention)
	pruned, err := s.digests.DeleteOlderThan(ctx, cutoff, sweepBatch)
	if err != nil {
		s.logger.Error("prune old digests", "error", err)
	} else if pruned > 0 {
		metrics.SweptTotal.WithLabelValues("digest").Add(float64(pruned))
		s.logger.Info("pruned old digests", "count", pruned, "cutoff", cutoff)
	}
}
