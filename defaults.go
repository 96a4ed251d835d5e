package orchestrator

import "time"

// Well-known service names.
const (
	ServiceAPI       = "api"
	ServiceEvaluator = "evaluator"
)

// Default preferred ports and their fallback lists. The UI port is not
// bound by this process; it is allocated so the port map handed to the
// renderer is complete.
const (
	DefaultAPIPort       = 3000
	DefaultEvaluatorPort = 3001
	DefaultUIPort        = 4200
)

func defaultAPIFallbacks() []int       { return []int{3003, 3004, 3005} }
func defaultEvaluatorFallbacks() []int { return []int{3011, 3012, 3013} }

// defaultHealthPath is the health endpoint probed on already-running
// services in development mode.
const defaultHealthPath = "/api/health"

// defaultReadyMarker is the stdout substring both backend services print
// once their listener is up.
const defaultReadyMarker = "successfully started"

const (
	// DefaultReadyTimeout bounds how long a spawned service may take to
	// print its ready marker before it is declared crashed.
	DefaultReadyTimeout = 15 * time.Second

	// DefaultStopTimeout is the per-service graceful stop budget.
	DefaultStopTimeout = 5 * time.Second
)

// Operation queue defaults.
const (
	defaultQueueTimeout     = 30 * time.Second
	defaultRetryAttempts    = 5
	defaultRetryBaseDelay   = 100 * time.Millisecond
	defaultRetryMaxDelay    = 5 * time.Second
	defaultRetryJitter      = 0.1
	defaultWarnDepth        = 25
	defaultWarnFailureRate  = 0.5
	defaultSnapshotInterval = 10 * time.Second
)

// Default file names inside the data directory.
const (
	defaultLockFile     = "host.lock"
	defaultSettingsFile = "settings.yaml"
)
