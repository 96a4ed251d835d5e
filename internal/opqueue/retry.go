package opqueue

import (
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// retryableSignatures are the case-insensitive substrings that identify
// transient storage contention worth retrying. Everything else is terminal.
// Matching is textual because the driver surfaces contention as wrapped
// error strings, not typed errors.
var retryableSignatures = []string{
	"database is locked",
	"database is busy",
	"database table is locked",
	"cannot start a transaction",
	"disk i/o error",
	"sqlite_busy",
	"sqlite_locked",
}

// IsRetryable reports whether err matches a known transient storage
// contention signature.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// RetryPolicy controls how transient storage errors are retried.
// The delay before attempt n+1 is BaseDelay doubled per attempt, capped at
// MaxDelay, with up to Jitter fraction of random slack added.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first; minimum 1
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Upper bound for any single delay
	Jitter      float64       // Random slack fraction, e.g. 0.1 for up to +10%
}

// backoff builds the step state for one operation's retry sequence.
// Each operation gets a fresh value so attempts do not share growth state.
func (p RetryPolicy) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: p.BaseDelay,
		Factor:   2,
		Jitter:   p.Jitter,
		Steps:    p.MaxAttempts,
		Cap:      p.MaxDelay,
	}
}
