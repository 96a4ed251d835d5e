package opqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()

	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryPolicy{
			MaxAttempts: 1,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
		}
	}
	q := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func mustResult(t *testing.T, handle <-chan Result) Result {
	t.Helper()

	select {
	case res := <-handle:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for operation result")
		return Result{}
	}
}

func TestQueueExecutesSerially(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	type window struct {
		enter, exit time.Time
	}
	var mu sync.Mutex
	var windows []window

	var handles []<-chan Result
	for i := 0; i < 5; i++ {
		handles = append(handles, q.Execute(context.Background(), func(ctx context.Context) (any, error) {
			enter := time.Now()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			windows = append(windows, window{enter: enter, exit: time.Now()})
			mu.Unlock()
			return nil, nil
		}, 0, false))
	}

	for _, h := range handles {
		if res := mustResult(t, h); res.Err != nil {
			t.Fatalf("operation failed: %v", res.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(windows) != 5 {
		t.Fatalf("ran %d operations, want 5", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].enter.Before(windows[i-1].exit) {
			t.Fatalf("operation %d entered at %s before operation %d exited at %s",
				i, windows[i].enter, i-1, windows[i-1].exit)
		}
	}
}

func TestQueueTimeoutRejectsCallerWhileWorkContinues(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	var slowDone atomic.Int64
	start := time.Now()
	slow := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		// Ignores ctx on purpose, simulating a wedged driver call.
		time.Sleep(500 * time.Millisecond)
		slowDone.Store(time.Now().UnixNano())
		return nil, nil
	}, 100*time.Millisecond, false)

	res := mustResult(t, slow)
	elapsed := time.Since(start)
	if !errors.Is(res.Err, ErrOperationTimeout) {
		t.Fatalf("error = %v, want %v", res.Err, ErrOperationTimeout)
	}
	if elapsed < 80*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Fatalf("caller rejected after %s, want roughly the 100ms timeout", elapsed)
	}

	// The next operation must not start until the abandoned work returns.
	next := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return time.Now().UnixNano(), nil
	}, 0, false)
	nextRes := mustResult(t, next)
	if nextRes.Err != nil {
		t.Fatalf("follow-up operation failed: %v", nextRes.Err)
	}
	started := nextRes.Value.(int64)
	if done := slowDone.Load(); done == 0 || started < done {
		t.Fatalf("follow-up started at %d before abandoned work finished at %d", started, done)
	}
}

func TestQueueRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{
		Retry: RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   20 * time.Millisecond,
			MaxDelay:    200 * time.Millisecond,
			Jitter:      0,
		},
	})

	var attempts atomic.Int32
	start := time.Now()
	handle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("database is locked")
		}
		return "saved", nil
	}, 0, false)

	res := mustResult(t, handle)
	if res.Err != nil {
		t.Fatalf("operation failed: %v", res.Err)
	}
	if res.Value != "saved" {
		t.Fatalf("value = %v, want %q", res.Value, "saved")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	// Two backoff sleeps at 20ms and 40ms.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("resolved after %s, want at least 60ms of backoff", elapsed)
	}

	stats := q.Statistics()
	if stats.Retries != 2 {
		t.Fatalf("retries = %d, want 2", stats.Retries)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", stats.Succeeded)
	}
}

func TestQueueRetriesExhausted(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	})

	var attempts atomic.Int32
	handle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, errors.New("database is locked")
	}, 0, false)

	res := mustResult(t, handle)
	if res.Err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !strings.Contains(res.Err.Error(), "retries exhausted after 3 attempts") {
		t.Fatalf("error = %v, want retries-exhausted wrapping", res.Err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestQueueDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{
		Retry: RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	})

	permanent := errors.New("UNIQUE constraint failed: sessions.id")
	var attempts atomic.Int32
	handle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		attempts.Add(1)
		return nil, permanent
	}, 0, false)

	res := mustResult(t, handle)
	if !errors.Is(res.Err, permanent) {
		t.Fatalf("error = %v, want %v", res.Err, permanent)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestQueuePriorityJumpsQueuedWork(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	gateHandle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		close(gateRunning)
		<-gate
		return nil, nil
	}, 0, false)
	<-gateRunning

	var mu sync.Mutex
	var order []string
	record := func(label string) Work {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil, nil
		}
	}

	var handles []<-chan Result
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		handles = append(handles, q.Execute(context.Background(), record(label), 0, false))
	}
	handles = append(handles, q.Execute(context.Background(), record("urgent"), 0, true))

	close(gate)
	if res := mustResult(t, gateHandle); res.Err != nil {
		t.Fatalf("gate operation failed: %v", res.Err)
	}
	for _, h := range handles {
		if res := mustResult(t, h); res.Err != nil {
			t.Fatalf("operation failed: %v", res.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"urgent", "a", "b", "c", "d", "e"}
	if len(order) != len(want) {
		t.Fatalf("ran %d operations, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestQueueClearRejectsPending(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	gateHandle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		close(gateRunning)
		<-gate
		return "gate", nil
	}, 0, false)
	<-gateRunning

	var handles []<-chan Result
	for i := 0; i < 3; i++ {
		handles = append(handles, q.Execute(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		}, 0, false))
	}

	if got := q.Clear(); got != 3 {
		t.Fatalf("Clear() = %d, want 3", got)
	}
	for _, h := range handles {
		if res := mustResult(t, h); !errors.Is(res.Err, ErrQueueCleared) {
			t.Fatalf("error = %v, want %v", res.Err, ErrQueueCleared)
		}
	}

	// The in-flight operation is unaffected.
	close(gate)
	res := mustResult(t, gateHandle)
	if res.Err != nil || res.Value != "gate" {
		t.Fatalf("in-flight result = (%v, %v), want (gate, nil)", res.Value, res.Err)
	}
}

func TestQueueShutdown(t *testing.T) {
	t.Parallel()

	q := New(Config{DefaultTimeout: 5 * time.Second})

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	gateHandle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		close(gateRunning)
		<-gate
		return nil, nil
	}, 0, false)
	<-gateRunning

	pending := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		t.Error("pending operation must not run after shutdown")
		return nil, nil
	}, 0, false)

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr <- q.Shutdown(ctx)
	}()

	// Shutdown waits for the operation in flight.
	close(gate)
	if res := mustResult(t, gateHandle); res.Err != nil {
		t.Fatalf("in-flight operation failed: %v", res.Err)
	}
	if err := <-shutdownErr; err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	if res := mustResult(t, pending); !errors.Is(res.Err, ErrShuttingDown) {
		t.Fatalf("pending error = %v, want %v", res.Err, ErrShuttingDown)
	}

	// New submissions are rejected without blocking.
	late := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0, false)
	if res := mustResult(t, late); !errors.Is(res.Err, ErrShuttingDown) {
		t.Fatalf("late error = %v, want %v", res.Err, ErrShuttingDown)
	}
}

func TestQueueRejectsNilWork(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	res := mustResult(t, q.Execute(context.Background(), nil, 0, false))
	if !errors.Is(res.Err, ErrNilWork) {
		t.Fatalf("error = %v, want %v", res.Err, ErrNilWork)
	}
}

func TestQueueCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	gateHandle := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		close(gateRunning)
		<-gate
		return nil, nil
	}, 0, false)
	<-gateRunning

	ctx, cancel := context.WithCancel(context.Background())
	handle := q.Execute(ctx, func(ctx context.Context) (any, error) {
		t.Error("canceled operation must not run")
		return nil, nil
	}, 0, false)
	cancel()
	close(gate)

	if res := mustResult(t, gateHandle); res.Err != nil {
		t.Fatalf("gate operation failed: %v", res.Err)
	}
	if res := mustResult(t, handle); !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("error = %v, want %v", res.Err, context.Canceled)
	}
}

func TestQueueStatistics(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	ok := func(ctx context.Context) (any, error) { return nil, nil }
	fail := func(ctx context.Context) (any, error) { return nil, errors.New("no such table: answers") }

	mustResult(t, q.Execute(context.Background(), ok, 0, false))
	mustResult(t, q.Execute(context.Background(), ok, 0, false))
	mustResult(t, q.Execute(context.Background(), fail, 0, false))

	stats := q.Statistics()
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want total 3, succeeded 2, failed 1", stats)
	}
	if stats.AvgLatency <= 0 {
		t.Fatalf("avg latency = %s, want > 0", stats.AvgLatency)
	}
	if stats.QueueLength != 0 || stats.Processing {
		t.Fatalf("stats = %+v, want idle queue", stats)
	}
}

func TestQueueSnapshots(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{SnapshotInterval: 20 * time.Millisecond})

	mustResult(t, q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0, false))

	select {
	case snap := <-q.Snapshots():
		if snap.Total != 1 {
			t.Fatalf("snapshot total = %d, want 1", snap.Total)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a statistics snapshot")
	}
}
