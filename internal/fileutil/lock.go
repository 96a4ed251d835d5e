package fileutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is the interval between consecutive attempts to acquire
// the data directory lock. 50ms balances responsiveness (low wait after the
// holder releases) against CPU overhead from busy-polling.
const lockRetryInterval = 50 * time.Millisecond

// AcquireLock acquires an exclusive advisory lock on the given file path.
// It respects context cancellation and returns early if the context is
// canceled. Acquisition is retried at lockRetryInterval until successful or
// the context is done.
//
// The orchestrator locks a file inside its data directory so that a second
// host process can never open the writable database concurrently.
func AcquireLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, err)
	}

	if !locked {
		// TryLockContext should return an error when it fails, but handle
		// the case where it returns (false, nil) unexpectedly.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, ctx.Err())
		}

		return nil, fmt.Errorf("acquiring file lock %s: lock not acquired", lockPath)
	}

	return fl, nil
}

// ReleaseLock releases the file lock and closes the file descriptor.
// The lock file is intentionally left on disk to avoid a race where removing
// it could invalidate a lock concurrently acquired by another process.
// Close() calls Unlock() internally, so no explicit Unlock is needed.
// Errors are logged at debug level; this is best-effort cleanup so errors
// are not returned.
func ReleaseLock(logger *slog.Logger, fl *flock.Flock) {
	if fl != nil {
		if err := fl.Close(); err != nil {
			logger.Debug("failed to release file lock", "path", fl.Path(), "err", err)
		}
	}
}
