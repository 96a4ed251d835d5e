package opqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// ErrOperationTimeout is the rejection delivered to a caller whose operation
// did not complete within its timeout. The underlying work is signaled
// through its context but not forcibly aborted; see Execute.
const ErrOperationTimeout = sentinel.Error("operation timed out")

// ErrQueueCleared is the rejection delivered to every pending operation when
// Clear discards the queue.
const ErrQueueCleared = sentinel.Error("queue cleared")

// ErrShuttingDown is the rejection delivered to operations submitted after
// Shutdown, and to operations still pending when the worker drains.
const ErrShuttingDown = sentinel.Error("queue shutting down")

// ErrNilWork is returned when Execute is called without a work function.
const ErrNilWork = sentinel.Error("work must not be nil")

// minSampleForRateWarn is the number of resolved operations required before
// the failure-rate warning can fire, so a single early failure does not trip
// the threshold.
const minSampleForRateWarn = 20

// Work is one unit of database work. The context is canceled when the
// operation times out or the queue shuts down; work that honors it stops
// promptly, work that ignores it keeps running with its result discarded.
type Work func(ctx context.Context) (any, error)

// Result is the outcome of one operation.
type Result struct {
	Value any
	Err   error
}

// Config holds configuration for a Queue.
type Config struct {
	DefaultTimeout   time.Duration // Applied when Execute receives a non-positive timeout
	Retry            RetryPolicy
	WarnDepth        int           // Queue length that triggers a depth warning
	WarnFailureRate  float64       // Failed/Total ratio that triggers a rate warning
	SnapshotInterval time.Duration // Statistics emission period
	Logger           *slog.Logger  // Optional, defaults to slog.Default()
}

// operation is one queued unit of work. The result channel is buffered so
// the worker never blocks on a caller that abandoned its handle.
type operation struct {
	id         string
	work       Work
	ctx        context.Context
	timeout    time.Duration
	priority   bool
	enqueuedAt time.Time
	result     chan Result
}

// Queue serializes all database work through a single worker goroutine.
// Any number of goroutines may submit concurrently; exactly one operation
// executes at any instant. Safe for concurrent use.
type Queue struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	pending     []*operation // front at index 0
	processing  bool
	closed      bool
	stats       Statistics
	depthWarned bool
	rateWarned  bool

	wake       chan struct{}
	workerDone chan struct{}
	snapshots  chan Statistics
}

// New creates a Queue and starts its worker. The queue accepts work until
// Shutdown is called.
func New(cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	q := &Queue{
		cfg:        cfg,
		log:        cfg.Logger,
		wake:       make(chan struct{}, 1),
		workerDone: make(chan struct{}),
		snapshots:  make(chan Statistics, 1),
	}
	go q.worker()
	if cfg.SnapshotInterval > 0 {
		go q.snapshotLoop(cfg.SnapshotInterval)
	}
	return q
}

// Execute submits work to the queue and returns a handle that delivers
// exactly one Result. Work runs after everything ahead of it has finished;
// priority work is inserted ahead of all queued non-priority work but behind
// other priority work and never preempts the operation in flight.
//
// timeout bounds the caller's wait for one attempt; non-positive values use
// the configured default. When the timeout fires the handle is rejected with
// ErrOperationTimeout and the work's context is canceled, but the work
// itself is not forcibly aborted: the worker waits for it to return (its
// result is discarded) before starting the next operation, preserving the
// one-at-a-time guarantee. Cancelling ctx before the work starts rejects the
// operation without running it.
//
// Errors matching a transient storage contention signature are retried with
// capped, jittered exponential backoff up to the configured attempt budget;
// other errors reject the handle immediately.
func (q *Queue) Execute(ctx context.Context, work Work, timeout time.Duration, priority bool) <-chan Result {
	result := make(chan Result, 1)
	if work == nil {
		result <- Result{Err: ErrNilWork}
		return result
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}

	op := &operation{
		id:         uuid.NewString(),
		work:       work,
		ctx:        ctx,
		timeout:    timeout,
		priority:   priority,
		enqueuedAt: time.Now(),
		result:     result,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		result <- Result{Err: ErrShuttingDown}
		return result
	}
	q.insert(op)
	depth := len(q.pending)
	warn := q.cfg.WarnDepth > 0 && depth > q.cfg.WarnDepth && !q.depthWarned
	if warn {
		q.depthWarned = true
	} else if q.cfg.WarnDepth > 0 && depth <= q.cfg.WarnDepth {
		q.depthWarned = false
	}
	q.mu.Unlock()

	if warn {
		q.log.Warn("operation queue depth above threshold",
			"depth", depth, "threshold", q.cfg.WarnDepth)
	}
	q.signalWake()
	return result
}

// insert places op at the back of the queue, or, for priority work, ahead of
// all non-priority work already queued. Caller holds q.mu.
func (q *Queue) insert(op *operation) {
	if !op.priority {
		q.pending = append(q.pending, op)
		return
	}
	idx := 0
	for idx < len(q.pending) && q.pending[idx].priority {
		idx++
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = op
}

// Len returns the number of operations currently waiting (not counting one
// in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsProcessing reports whether an operation is executing right now.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Statistics returns a snapshot of queue counters.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.QueueLength = len(q.pending)
	s.Processing = q.processing
	return s
}

// Snapshots returns the channel on which periodic Statistics snapshots are
// published. Snapshots are dropped, not queued, when the consumer lags. The
// channel is closed after Shutdown completes.
func (q *Queue) Snapshots() <-chan Statistics {
	return q.snapshots
}

// Clear discards every pending operation, rejecting each with
// ErrQueueCleared, and returns the number discarded. The operation in
// flight, if any, is unaffected. This is an emergency drain for callers that
// know the queued work is no longer wanted.
func (q *Queue) Clear() int {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, op := range cleared {
		op.result <- Result{Err: ErrQueueCleared}
	}
	if len(cleared) > 0 {
		q.log.Warn("operation queue cleared", "rejected", len(cleared))
	}
	return len(cleared)
}

// Shutdown stops accepting work, waits for the operation in flight to
// finish, and rejects everything still pending with ErrShuttingDown. It
// returns once the worker has exited, or ctx's error if that happens first
// (the worker still drains in the background).
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signalWake()

	select {
	case <-q.workerDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

// signalWake nudges the worker without blocking; a pending nudge is enough.
func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// worker is the single execution loop. It pops one operation at a time and
// runs it to completion before touching the next; this is the mechanism
// that turns many concurrent callers into one serialized lane against the
// shared database handle.
func (q *Queue) worker() {
	defer close(q.workerDone)
	for {
		op := q.next()
		if op == nil {
			q.drainPending()
			return
		}
		q.runOperation(op)
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}
}

// next blocks until an operation is available, returning nil when the queue
// has been closed. The processing flag is set under the same lock as the
// pop, so Len+IsProcessing can never observe an operation as both queued
// and in flight.
func (q *Queue) next() *operation {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		if len(q.pending) > 0 {
			op := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = true
			q.mu.Unlock()
			q.log.Debug("operation dequeued",
				"op", op.id, "queued_for", time.Since(op.enqueuedAt))
			return op
		}
		q.mu.Unlock()
		<-q.wake
	}
}

// drainPending rejects everything still queued at shutdown.
func (q *Queue) drainPending() {
	q.mu.Lock()
	remaining := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, op := range remaining {
		op.result <- Result{Err: ErrShuttingDown}
	}
	if len(remaining) > 0 {
		q.log.Info("operation queue drained at shutdown", "rejected", len(remaining))
	}
}

// runOperation executes one operation through its retry budget and resolves
// the caller's handle exactly once.
func (q *Queue) runOperation(op *operation) {
	backoff := q.cfg.Retry.backoff()

	for attempt := 1; ; attempt++ {
		if err := op.ctx.Err(); err != nil {
			q.reject(op, fmt.Errorf("operation %s: %w", op.id, err))
			return
		}

		start := time.Now()
		res, timedOut := q.runAttempt(op)
		q.observe(time.Since(start))

		switch {
		case timedOut:
			// The caller was already rejected inside runAttempt, at the
			// moment the timeout fired. Only the counters remain.
			q.recordFailure()
			return
		case res.Err == nil:
			q.resolve(op, res)
			return
		case !IsRetryable(res.Err):
			q.reject(op, res.Err)
			return
		case attempt >= q.cfg.Retry.MaxAttempts:
			q.reject(op, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, res.Err))
			return
		}

		delay := backoff.Step()
		q.mu.Lock()
		q.stats.Retries++
		q.mu.Unlock()
		q.log.Debug("retrying operation",
			"op", op.id, "attempt", attempt, "delay", delay, "error", res.Err)

		select {
		case <-time.After(delay):
		case <-op.ctx.Done():
		}
	}
}

// runAttempt runs one attempt of op, racing the work against the timeout.
//
// On timeout the caller is rejected immediately, then runAttempt blocks
// until the work function returns so that no two operations ever execute in
// overlapping windows. The late result is discarded.
func (q *Queue) runAttempt(op *operation) (Result, bool) {
	ctx, cancel := context.WithTimeout(op.ctx, op.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		value, err := op.work(ctx)
		done <- Result{Value: value, Err: err}
	}()

	select {
	case res := <-done:
		return res, false
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			op.result <- Result{Err: fmt.Errorf("operation %s after %s: %w",
				op.id, op.timeout, ErrOperationTimeout)}
		} else {
			op.result <- Result{Err: fmt.Errorf("operation %s: %w", op.id, ctx.Err())}
		}
		q.log.Warn("operation timed out; discarding its eventual result",
			"op", op.id, "timeout", op.timeout)
		<-done
		return Result{}, true
	}
}

// resolve updates counters, then delivers a successful result. Counters go
// first so a caller that reads Statistics right after its result already
// sees the operation counted.
func (q *Queue) resolve(op *operation, res Result) {
	q.mu.Lock()
	q.stats.Total++
	q.stats.Succeeded++
	q.mu.Unlock()
	op.result <- res
}

// reject updates counters, then delivers a failure.
func (q *Queue) reject(op *operation, err error) {
	q.recordFailure()
	op.result <- Result{Err: err}
}

// recordFailure bumps the failure counters and emits the failure-rate
// warning when the ratio first crosses the configured threshold.
func (q *Queue) recordFailure() {
	q.mu.Lock()
	q.stats.Total++
	q.stats.Failed++
	total, failed := q.stats.Total, q.stats.Failed
	warn := false
	if q.cfg.WarnFailureRate > 0 && total >= minSampleForRateWarn {
		rate := float64(failed) / float64(total)
		if rate > q.cfg.WarnFailureRate && !q.rateWarned {
			q.rateWarned = true
			warn = true
		} else if rate <= q.cfg.WarnFailureRate {
			q.rateWarned = false
		}
	}
	q.mu.Unlock()

	if warn {
		q.log.Warn("operation failure rate above threshold",
			"failed", failed, "total", total, "threshold", q.cfg.WarnFailureRate)
	}
}

// observe folds one attempt duration into the rolling latency average.
func (q *Queue) observe(d time.Duration) {
	q.mu.Lock()
	q.stats.observeLatency(d)
	q.mu.Unlock()
}

// snapshotLoop periodically publishes statistics until the worker exits.
func (q *Queue) snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.workerDone:
			close(q.snapshots)
			return
		case <-ticker.C:
			snap := q.Statistics()
			select {
			case q.snapshots <- snap:
			default: // consumer lagging; drop this snapshot
			}
		}
	}
}
