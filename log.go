package orchestrator

import (
	"log/slog"
	"sync/atomic"
)

// logger is the package-level logger, stored as an atomic pointer so reads
// and writes are safe without a lock. Nil means no custom logger has been
// set and Logger() falls back to a cached default.
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches the default-derived logger so it is not re-created
// on every Logger() call. SetLogger(nil) clears it, letting the next call
// pick up a changed slog.Default().
var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the package-level logger: the one set via SetLogger, or
// slog.Default() tagged with the orchestrator component attribute.
// Safe to call from multiple goroutines.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := slog.Default().With("component", "orchestrator")
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

// SetLogger replaces the package-level logger. Passing nil resets to the
// default, re-derived from slog.Default() on the next Logger() call.
// Individual orchestrators can still override it with WithLogger.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}
