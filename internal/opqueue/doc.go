// Package opqueue serializes database work behind a single worker.
//
// The embedded database tolerates only one writer, so every access to its
// handle is funneled through a Queue: callers submit work from any goroutine,
// the worker executes exactly one operation at a time in FIFO order (with
// priority work inserted ahead of non-priority work), applies a
// per-operation timeout, and retries transient contention errors with
// capped, jittered exponential backoff. Running counters and a rolling
// latency average are published on a snapshot channel for observability
// consumers.
package opqueue
