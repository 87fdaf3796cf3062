// Package queue provides the bounded FIFO the engine pushes digest
// executions through. It throttles and retries calls toward an expensive
// external dependency; it is not a correctness mechanism. Duplicate-firing
// safety lives entirely in the claim protocol, so a lost queue job means a
// missed delivery, never a double one.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ErlanBelekov/daybrief/internal/metrics"
)

const (
	DefaultConcurrency = 1
	DefaultMaxRetries  = 3
)

// ErrStopped resolves handles of jobs the queue shut down before finishing.
var ErrStopped = errors.New("queue stopped")

// Handle resolves once its job reaches a terminal state: success, permanent
// failure after retries, or queue shutdown.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// Done is closed when the job is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal error. Only meaningful after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the job is terminal or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	name    string
	ctx     context.Context
	fn      func(context.Context) error
	retries int
	handle  *Handle
}

// Queue runs jobs in FIFO order on a fixed number of workers. A failed job
// goes back to the FRONT of the queue and runs again before anything
// younger, up to maxRetries extra attempts.
type Queue struct {
	concurrency int
	maxRetries  int
	logger      *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	stopped bool
	wake    chan struct{}

	succeeded atomic.Uint64
	failed    atomic.Uint64
}

func New(concurrency, maxRetries int, logger *slog.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		concurrency: concurrency,
		maxRetries:  maxRetries,
		logger:      logger.With("component", "digest_queue"),
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue appends a job and returns its completion handle. The job runs on
// a context that inherits ctx's values but not its cancellation: shutdown
// must not cancel an execution whose claim is already durable. Jobs still
// waiting when the queue stops resolve with ErrStopped.
func (q *Queue) Enqueue(ctx context.Context, name string, fn func(context.Context) error) (*Handle, error) {
	j := &job{
		name:   name,
		ctx:    context.WithoutCancel(ctx),
		fn:     fn,
		handle: &Handle{done: make(chan struct{})},
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	q.jobs = append(q.jobs, j)
	depth := len(q.jobs)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.signal()
	return j.handle, nil
}

// Start runs the worker pool until ctx is cancelled, then resolves every
// job still waiting with ErrStopped. An in-flight job is left to finish on
// its detached context; if the process exits first the delivery is lost,
// which the claim protocol turns into a missed occurrence rather than a
// duplicate.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("queue started",
		"concurrency", q.concurrency,
		"max_retries", q.maxRetries,
	)

	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()

	q.mu.Lock()
	q.stopped = true
	leftovers := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	metrics.QueueDepth.Set(0)

	for _, j := range leftovers {
		j.handle.resolve(ErrStopped)
	}
	q.logger.Info("queue shut down",
		"succeeded", q.succeeded.Load(),
		"failed", q.failed.Load(),
		"abandoned", len(leftovers),
	)
}

// Stats returns the terminal-outcome counters.
func (q *Queue) Stats() (succeeded, failed uint64) {
	return q.succeeded.Load(), q.failed.Load()
}

// Depth returns how many jobs are waiting (not counting in-flight ones).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		q.run(j)
	}
}

func (q *Queue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) > 0 {
		// Another idle worker may be needed for what is left.
		q.signal()
	}
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	return j, true
}

func (q *Queue) pushFront(j *job) {
	q.mu.Lock()
	q.jobs = append([]*job{j}, q.jobs...)
	depth := len(q.jobs)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))
	q.signal()
}

func (q *Queue) run(j *job) {
	err := q.invoke(j)
	if err == nil {
		q.succeeded.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("succeeded").Inc()
		j.handle.resolve(nil)
		return
	}

	if j.retries < q.maxRetries {
		j.retries++
		metrics.QueueJobsTotal.WithLabelValues("retried").Inc()
		q.logger.Warn("job failed, retrying at queue front",
			"job", j.name,
			"attempt", j.retries,
			"max_retries", q.maxRetries,
			"error", err,
		)
		q.pushFront(j)
		return
	}

	q.failed.Add(1)
	metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
	q.logger.Error("job failed permanently",
		"job", j.name,
		"attempts", j.retries+1,
		"error", err,
	)
	j.handle.resolve(err)
}

func (q *Queue) invoke(j *job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panic: %v", p)
		}
	}()
	return j.fn(j.ctx)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
