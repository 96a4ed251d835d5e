package orchestrator

import (
	"fmt"
	"log/slog"
	"time"
)

// Mode is the runtime mode the orchestrator was constructed with. It is
// resolved once at construction and threaded explicitly; nothing re-reads
// the environment later.
type Mode string

const (
	// ModeProduction spawns bundled service binaries on allocated ports.
	ModeProduction Mode = "production"

	// ModeDevelopment first probes the well-known ports for externally
	// run services (the developer's own `serve` processes) and reuses
	// them instead of spawning anything when both respond healthy.
	ModeDevelopment Mode = "development"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("orchestrator: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("orchestrator: %s must not be empty", name))
	}
}

// config is assembled by New from options and validated before use.
type config struct {
	DataDir         string
	SettingsPath    string
	QuestionsSource string
	Mode            Mode
	Logger          *slog.Logger

	APIBinary          string
	APIArgs            []string
	EvaluatorBinary    string
	EvaluatorArgs      []string
	APIPort            int
	APIFallbacks       []int
	EvaluatorPort      int
	EvaluatorFallbacks []int
	UIPort             int

	HealthPath   string
	ReadyMarker  string
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	QueueTimeout time.Duration
}

// Option configures an Orchestrator during construction via New.
//
// Several With* functions panic on invalid input (empty paths, non-positive
// durations). Option values are typically compile-time constants, so an
// invalid one is a programmer error; failing fast during initialization
// beats returning errors that would be universally fatal anyway.
type Option func(*config)

// WithDataDir sets the directory holding the lock file, settings file, and
// databases. Required. Panics if dir is empty.
func WithDataDir(dir string) Option {
	requireNonEmpty("data directory", dir)
	return func(c *config) {
		c.DataDir = dir
	}
}

// WithMode sets the runtime mode.
//
// Default: ModeProduction.
func WithMode(mode Mode) Option {
	if mode != ModeProduction && mode != ModeDevelopment {
		panic(fmt.Sprintf("orchestrator: unknown mode %q", mode))
	}
	return func(c *config) {
		c.Mode = mode
	}
}

// WithLogger sets the logger for this orchestrator and everything it
// constructs. Defaults to the package logger (see SetLogger).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.Logger = l
	}
}

// WithAPIBinary sets the API service executable and its arguments.
// Panics if binPath is empty.
func WithAPIBinary(binPath string, args ...string) Option {
	requireNonEmpty("api binary path", binPath)
	return func(c *config) {
		c.APIBinary = binPath
		c.APIArgs = args
	}
}

// WithEvaluatorBinary sets the evaluator service executable and its
// arguments. Panics if binPath is empty.
func WithEvaluatorBinary(binPath string, args ...string) Option {
	requireNonEmpty("evaluator binary path", binPath)
	return func(c *config) {
		c.EvaluatorBinary = binPath
		c.EvaluatorArgs = args
	}
}

// WithAPIPort sets the preferred API port and its fallback list.
// Panics if port is not positive.
func WithAPIPort(port int, fallbacks ...int) Option {
	requirePositive("api port", port)
	return func(c *config) {
		c.APIPort = port
		c.APIFallbacks = fallbacks
	}
}

// WithEvaluatorPort sets the preferred evaluator port and its fallback
// list. Panics if port is not positive.
func WithEvaluatorPort(port int, fallbacks ...int) Option {
	requirePositive("evaluator port", port)
	return func(c *config) {
		c.EvaluatorPort = port
		c.EvaluatorFallbacks = fallbacks
	}
}

// WithUIPort sets the UI port reported in the allocation. Panics if port
// is not positive.
func WithUIPort(port int) Option {
	requirePositive("ui port", port)
	return func(c *config) {
		c.UIPort = port
	}
}

// WithSettingsPath overrides the settings file location.
// Default: <data dir>/settings.yaml. Panics if path is empty.
func WithSettingsPath(path string) Option {
	requireNonEmpty("settings path", path)
	return func(c *config) {
		c.SettingsPath = path
	}
}

// WithQuestionsSource sets the bundled questions database copied into the
// data directory on first run. Panics if path is empty.
func WithQuestionsSource(path string) Option {
	requireNonEmpty("questions source path", path)
	return func(c *config) {
		c.QuestionsSource = path
	}
}

// WithReadyMarker overrides the stdout substring that signals a spawned
// service is ready. Panics if marker is empty.
func WithReadyMarker(marker string) Option {
	requireNonEmpty("ready marker", marker)
	return func(c *config) {
		c.ReadyMarker = marker
	}
}

// WithReadyTimeout sets the readiness budget for spawned services.
//
// Default: 15 seconds. Panics if d <= 0.
func WithReadyTimeout(d time.Duration) Option {
	requirePositive("ready timeout", d)
	return func(c *config) {
		c.ReadyTimeout = d
	}
}

// WithStopTimeout sets the per-service stop budget covering the SIGTERM
// grace period.
//
// Default: 5 seconds. Panics if d <= 0.
func WithStopTimeout(d time.Duration) Option {
	requirePositive("stop timeout", d)
	return func(c *config) {
		c.StopTimeout = d
	}
}

// WithQueueTimeout sets the default per-operation timeout of the operation
// queue.
//
// Default: 30 seconds. Panics if d <= 0.
func WithQueueTimeout(d time.Duration) Option {
	requirePositive("queue timeout", d)
	return func(c *config) {
		c.QueueTimeout = d
	}
}

func defaultConfig() config {
	return config{
		Mode:               ModeProduction,
		APIPort:            DefaultAPIPort,
		APIFallbacks:       defaultAPIFallbacks(),
		EvaluatorPort:      DefaultEvaluatorPort,
		EvaluatorFallbacks: defaultEvaluatorFallbacks(),
		UIPort:             DefaultUIPort,
		HealthPath:         defaultHealthPath,
		ReadyMarker:        defaultReadyMarker,
		ReadyTimeout:       DefaultReadyTimeout,
		StopTimeout:        DefaultStopTimeout,
		QueueTimeout:       defaultQueueTimeout,
	}
}
