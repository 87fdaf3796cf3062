// Package breaker wraps calls to an external dependency with a
// CLOSED/OPEN/HALF_OPEN circuit so a dead service sheds load fast instead
// of stacking up timed-out calls.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/metrics"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrOpen is handed to the fallback (or returned when there is none)
	// for calls short-circuited without invoking the protected function.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTimeout marks a call that lost the race against the call timeout.
	// It counts as a failure like any other.
	ErrTimeout = errors.New("call timed out")
)

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultResetTimeout     = 30 * time.Second
	DefaultCallTimeout      = 60 * time.Second
)

type Config struct {
	// Name labels log lines and metrics.
	Name string

	// FailureThreshold consecutive failures while closed trip the circuit.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int

	// ResetTimeout is how long an open circuit rejects before probing.
	ResetTimeout time.Duration

	// CallTimeout bounds each protected call.
	CallTimeout time.Duration

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Func is a protected call.
type Func func(context.Context) error

// Fallback handles a failed or short-circuited call; cause is the original
// error. Returning nil converts the failure into a degraded success.
type Fallback func(ctx context.Context, cause error) error

type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	callTimeout      time.Duration
	logger           *slog.Logger
	now              func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	nextAttempt time.Time
	probing     bool
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		resetTimeout:     cfg.ResetTimeout,
		callTimeout:      cfg.CallTimeout,
		logger:           cfg.Logger.With("component", "breaker", "breaker", cfg.Name),
		now:              cfg.Now,
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(Closed))
	return b
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker. While the circuit is open (and the
// reset timeout has not elapsed) fn is never invoked; ErrOpen goes to the
// fallback instead. The first call after the reset timeout runs as the
// half-open probe, with concurrent calls short-circuited until it settles.
// Every call races the call timeout, and a timeout counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn Func, fallback Fallback) error {
	if err := b.allow(); err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}

	err := b.call(ctx, fn)
	if err != nil {
		b.recordFailure(err)
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Before(b.nextAttempt) {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) call(ctx context.Context, fn Func) error {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, b.callTimeout)
		}
		return callCtx.Err()
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(Closed)
		}
	}
}

func (b *Breaker) recordFailure(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip(cause)
		}
	case HalfOpen:
		// The probe failed; go back to rejecting for a full reset window.
		b.trip(cause)
	case Open:
		// A straggler admitted before the trip finished late. Nothing to
		// count, the circuit is already open.
	}
}

func (b *Breaker) trip(cause error) {
	b.nextAttempt = b.now().Add(b.resetTimeout)
	b.state = Open
	b.failures = 0
	b.successes = 0
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(Open))
	metrics.BreakerOpensTotal.WithLabelValues(b.name).Inc()
	b.logger.Warn("circuit opened",
		"error", cause,
		"retry_at", b.nextAttempt,
	)
}

func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.successes = 0
	if s == Closed {
		b.failures = 0
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
	switch s {
	case Closed:
		b.logger.Info("circuit closed")
	case HalfOpen:
		b.logger.Info("circuit half-open, probing")
	}
}
