// Package scheduler contains the digest engine: a boundary-aligned check
// loop that, holding a distributed lease, matches every user's digest
// schedules against their local wall clock, claims each due occurrence via
// a version-checked last-run write, and pushes the claimed work through the
// execution queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/digest"
	"github.com/ErlanBelekov/daybrief/internal/metrics"
	"github.com/ErlanBelekov/daybrief/internal/queue"
	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/ErlanBelekov/daybrief/internal/requestid"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultLeaseTTL = 5 * time.Minute

	// DefaultLockID is shared by every deployment of the engine; one lease
	// row guards the whole check pass.
	DefaultLockID = "digest-engine"

	// minTickDelay keeps a boundary that rounds to ~zero from re-firing
	// the same tick twice.
	minTickDelay = time.Second
)

// Options tunes the runner; zero values fall back to the defaults above.
type Options struct {
	Interval  time.Duration
	Tolerance time.Duration
	LeaseTTL  time.Duration
	LockID    string

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// Runner drives the engine. A single Runner per process; the lease decides
// which process's Runner actually does the work each tick.
type Runner struct {
	users  repository.UserRepository
	leases repository.LeaseRepository
	saver  *repository.Saver
	exec   digest.Executor
	queue  *queue.Queue
	logger *slog.Logger

	interval  time.Duration
	tolerance time.Duration
	leaseTTL  time.Duration
	lockID    string
	holder    string
	now       func() time.Time

	inProgress atomic.Bool
}

func NewRunner(
	users repository.UserRepository,
	leases repository.LeaseRepository,
	saver *repository.Saver,
	exec digest.Executor,
	q *queue.Queue,
	logger *slog.Logger,
	opts Options,
) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.LockID == "" {
		opts.LockID = DefaultLockID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	return &Runner{
		users:     users,
		leases:    leases,
		saver:     saver,
		exec:      exec,
		queue:     q,
		logger:    logger.With("component", "digest_engine", "holder", holder),
		interval:  opts.Interval,
		tolerance: opts.Tolerance,
		leaseTTL:  opts.LeaseTTL,
		lockID:    opts.LockID,
		holder:    holder,
		now:       opts.Now,
	}
}

// Start runs the check loop until ctx is cancelled, then releases the lease
// so the next deployment does not have to wait out the TTL.
func (r *Runner) Start(ctx context.Context) {
	metrics.EngineStartTime.SetToCurrentTime()
	r.logger.Info("digest engine started",
		"interval", r.interval,
		"tolerance", r.tolerance,
		"lease_ttl", r.leaseTTL,
		"lock_id", r.lockID,
	)

	timer := time.NewTimer(UntilNextTick(r.now(), r.interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.releaseLease()
			r.logger.Info("digest engine stopped")
			return
		case <-timer.C:
			r.Tick(ctx)
			// Re-arm from the current clock, not a fixed period: a slow
			// pass or a clock adjustment must not let boundaries drift.
			timer.Reset(UntilNextTick(r.now(), r.interval))
		}
	}
}

// UntilNextTick returns the delay from now to the nearest interval boundary
// strictly after it. Boundaries are fixed wall-clock marks (for a 10-minute
// interval: :00, :10, :20, ...), so every deployment computes the same
// grid regardless of when it started.
func UntilNextTick(now time.Time, interval time.Duration) time.Duration {
	next := now.Truncate(interval).Add(interval)
	delay := next.Sub(now)
	if delay < minTickDelay {
		delay = minTickDelay
	}
	return delay
}

// Running reports whether a check pass is in flight.
func (r *Runner) Running() bool {
	return r.inProgress.Load()
}

// Tick runs one guarded check pass: skip if the previous pass is still
// going, skip if the lease is held elsewhere, otherwise sweep all users.
// A panic anywhere in the pass is contained here so the loop survives.
func (r *Runner) Tick(ctx context.Context) {
	if !r.inProgress.CompareAndSwap(false, true) {
		metrics.CheckPassesTotal.WithLabelValues("overlap_skipped").Inc()
		r.logger.Warn("previous check pass still running, skipping tick")
		return
	}
	defer r.inProgress.Store(false)

	start := time.Now()
	outcome := "ok"
	defer func() {
		if p := recover(); p != nil {
			outcome = "panic"
			r.logger.Error("check pass panicked", "panic", p)
		}
		metrics.CheckPassesTotal.WithLabelValues(outcome).Inc()
		metrics.CheckPassDuration.Observe(time.Since(start).Seconds())
	}()

	// One correlation id for every line this pass emits.
	ctx = requestid.WithRequestID(ctx, requestid.New())

	acquired, err := r.leases.Acquire(ctx, r.lockID, r.holder, r.leaseTTL)
	if err != nil {
		outcome = "error"
		r.logger.Error("acquire scheduler lease", "error", err)
		return
	}
	if !acquired {
		outcome = "lease_contended"
		metrics.LeaseAcquireTotal.WithLabelValues("contended").Inc()
		r.logger.Debug("lease held elsewhere, skipping tick", "lock_id", r.lockID)
		return
	}
	metrics.LeaseAcquireTotal.WithLabelValues("acquired").Inc()

	// Keep the lease alive while the pass runs; a pass over many users can
	// outlive the TTL. Renewal failures only log — each individual firing
	// is still guarded by its claim.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.keepLeaseAlive(hbCtx)

	if err := r.checkPass(ctx); err != nil {
		outcome = "error"
		r.logger.Error("check pass", "error", err)
	}
}

func (r *Runner) keepLeaseAlive(ctx context.Context) {
	ticker := time.NewTicker(r.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.leases.Heartbeat(ctx, r.lockID, r.holder, r.leaseTTL)
			if err != nil {
				r.logger.Warn("lease heartbeat failed", "error", err)
			} else if !ok {
				r.logger.Warn("lease lost, heartbeat refused", "lock_id", r.lockID)
			}
		}
	}
}

// releaseLease runs on shutdown with its own context; the loop's is already
// cancelled by then.
func (r *Runner) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.leases.Release(ctx, r.lockID, r.holder); err != nil {
		r.logger.Warn("release scheduler lease", "error", err)
	}
}
