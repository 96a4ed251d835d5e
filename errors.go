package orchestrator

import (
	"github.com/xixas/interview-app-sub000/internal/netutil"
	"github.com/xixas/interview-app-sub000/internal/opqueue"
	"github.com/xixas/interview-app-sub000/internal/sentinel"
	"github.com/xixas/interview-app-sub000/internal/supervisor"
)

// ErrAlreadyStarted is returned by Start on a started orchestrator.
const ErrAlreadyStarted = sentinel.Error("orchestrator already started")

// ErrNotStarted is returned by operations that need a started orchestrator.
const ErrNotStarted = sentinel.Error("orchestrator not started")

// Sentinels from internal packages, re-exported so callers can match them
// with errors.Is without importing internals.
const (
	// ErrPortExhausted means no loopback port could be allocated between
	// the preferred port and the scan ceiling.
	ErrPortExhausted = netutil.ErrPortExhausted

	// ErrUnknownService is returned when a service name is not tracked.
	ErrUnknownService = supervisor.ErrUnknownService

	// ErrOperationTimeout rejects a queued operation that missed its
	// deadline.
	ErrOperationTimeout = opqueue.ErrOperationTimeout

	// ErrShuttingDown rejects operations submitted during queue shutdown.
	ErrShuttingDown = opqueue.ErrShuttingDown
)
