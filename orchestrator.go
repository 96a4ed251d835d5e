package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/xixas/interview-app-sub000/internal/fileutil"
	"github.com/xixas/interview-app-sub000/internal/opqueue"
	"github.com/xixas/interview-app-sub000/internal/settings"
	"github.com/xixas/interview-app-sub000/internal/storage"
	"github.com/xixas/interview-app-sub000/internal/supervisor"
)

// Orchestrator wires the port allocator, the process supervisor, the
// operation queue, storage, and the settings store into one lifecycle.
// Construct with New, bring up with Start, tear down with Shutdown.
// Safe for concurrent use.
type Orchestrator struct {
	cfg config
	log *slog.Logger

	mu       sync.Mutex
	started  bool
	devReuse bool
	ports    *PortAllocation

	lock     *flock.Flock
	queue    *opqueue.Queue
	store    *storage.Store
	settings *settings.FileStore
	super    *supervisor.Supervisor
}

// New assembles an Orchestrator from options. Nothing is locked, bound, or
// spawned until Start.
func New(opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	if cfg.SettingsPath == "" && cfg.DataDir != "" {
		cfg.SettingsPath = filepath.Join(cfg.DataDir, defaultSettingsFile)
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

// Start brings the backend up: it locks the data directory, opens settings,
// resolves the port map, starts the operation queue, opens storage, and
// spawns the configured services.
//
// Storage failure is the one fatal outcome besides the lock and port
// allocation: without its database the app has nothing to serve. A service
// that fails to spawn or misses its readiness budget leaves the
// orchestrator running degraded; its state is visible through Status.
//
// The port map is resolved once per Orchestrator. A Start following a
// Shutdown reuses the cached allocation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}
	if o.cfg.DataDir == "" {
		return errors.New("orchestrator: data directory is required, use WithDataDir")
	}

	if err := fileutil.EnsureDir(o.cfg.DataDir); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	lock, err := fileutil.AcquireLock(ctx, filepath.Join(o.cfg.DataDir, defaultLockFile))
	if err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}

	store, err := settings.OpenFile(o.cfg.SettingsPath, o.log)
	if err != nil {
		fileutil.ReleaseLock(o.log, lock)
		return fmt.Errorf("open settings: %w", err)
	}

	if o.ports == nil {
		ports, devReuse, allocErr := o.allocatePorts(ctx)
		if allocErr != nil {
			_ = store.Close()
			fileutil.ReleaseLock(o.log, lock)
			return allocErr
		}
		o.ports = &ports
		o.devReuse = devReuse
	}

	queue := opqueue.New(opqueue.Config{
		DefaultTimeout: o.cfg.QueueTimeout,
		Retry: opqueue.RetryPolicy{
			MaxAttempts: defaultRetryAttempts,
			BaseDelay:   defaultRetryBaseDelay,
			MaxDelay:    defaultRetryMaxDelay,
			Jitter:      defaultRetryJitter,
		},
		WarnDepth:        defaultWarnDepth,
		WarnFailureRate:  defaultWarnFailureRate,
		SnapshotInterval: defaultSnapshotInterval,
		Logger:           o.log,
	})

	db, err := storage.Open(ctx, storage.Config{
		DataDir:         o.cfg.DataDir,
		QuestionsSource: o.cfg.QuestionsSource,
		Logger:          o.log,
	}, queue)
	if err != nil {
		_ = queue.Shutdown(context.WithoutCancel(ctx))
		_ = store.Close()
		fileutil.ReleaseLock(o.log, lock)
		return fmt.Errorf("open storage: %w", err)
	}

	o.lock = lock
	o.settings = store
	o.queue = queue
	o.store = db
	o.super = supervisor.New(supervisor.Config{
		StopTimeout: o.cfg.StopTimeout,
		Logger:      o.log,
	})
	o.started = true

	if o.devReuse {
		o.log.Info("backend started against external services",
			"mode", o.cfg.Mode, "api", o.ports.API, "evaluator", o.ports.Evaluator)
		return nil
	}

	o.spawnServices(ctx)
	o.log.Info("backend started", "mode", o.cfg.Mode,
		"api", o.ports.API, "evaluator", o.ports.Evaluator)
	return nil
}

// spawnServices starts the configured service binaries in parallel. Spawn
// and readiness failures are logged and persisted, never returned: the
// orchestrator runs degraded rather than refusing to start. Caller holds
// o.mu.
func (o *Orchestrator) spawnServices(ctx context.Context) {
	type child struct {
		name   string
		binary string
		args   []string
		port   int
	}
	children := []child{
		{ServiceAPI, o.cfg.APIBinary, o.cfg.APIArgs, o.ports.API},
		{ServiceEvaluator, o.cfg.EvaluatorBinary, o.cfg.EvaluatorArgs, o.ports.Evaluator},
	}

	// Children outlive the startup call; their lifetime ends at Shutdown,
	// not when ctx does.
	procCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, c := range children {
		if c.binary == "" {
			o.log.Debug("service not configured, skipping", "service", c.name)
			continue
		}
		c := c
		g.Go(func() error {
			err := o.super.Start(procCtx, supervisor.Spec{
				Name:         c.name,
				Binary:       c.binary,
				Args:         c.args,
				Env:          o.childEnv(c.name, c.port),
				Port:         c.port,
				ReadyMarker:  o.cfg.ReadyMarker,
				ReadyTimeout: o.cfg.ReadyTimeout,
			})
			if err != nil {
				o.log.Warn("service failed to start, continuing degraded",
					"service", c.name, "error", err)
			}
			o.recordServiceState(procCtx, c.name)
			return nil
		})
	}
	_ = g.Wait()
}

// childEnv builds the environment contract for one service: its own port
// under PORT and <NAME>_PORT, both service ports for cross-service calls,
// the database paths, and the runtime mode.
func (o *Orchestrator) childEnv(name string, port int) map[string]string {
	nodeEnv := "production"
	if o.cfg.Mode == ModeDevelopment {
		nodeEnv = "development"
	}
	env := map[string]string{
		"PORT":              strconv.Itoa(port),
		"API_PORT":          strconv.Itoa(o.ports.API),
		"EVALUATOR_PORT":    strconv.Itoa(o.ports.Evaluator),
		"DATABASE_PATH":     o.store.DatabasePath(),
		"QUESTIONS_DB_PATH": o.store.QuestionsPath(),
		"NODE_ENV":          nodeEnv,
	}
	env[strings.ToUpper(name)+"_PORT"] = strconv.Itoa(port)
	return env
}

// recordServiceState persists the current supervisor state of one service
// as a service event. Best effort: a storage error here only logs.
func (o *Orchestrator) recordServiceState(ctx context.Context, name string) {
	status, ok := o.super.Status()[name]
	if !ok {
		return
	}
	err := o.store.RecordServiceEvent(ctx, storage.ServiceEvent{
		Service: status.Name,
		State:   string(status.State),
		Port:    status.Port,
		PID:     status.PID,
		Detail:  status.Err,
	})
	if err != nil {
		o.log.Warn("persist service event", "service", name, "error", err)
	}
}

// Shutdown tears the backend down in reverse order: stop services in
// parallel, drain the operation queue, close storage and settings, release
// the data directory lock. Every step runs even when an earlier one fails;
// the errors are joined.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return ErrNotStarted
	}

	var errs []error
	if err := o.super.StopAll(); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	for name := range o.super.Status() {
		o.recordServiceState(ctx, name)
	}
	if err := o.queue.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.settings.Close(); err != nil {
		errs = append(errs, err)
	}
	fileutil.ReleaseLock(o.log, o.lock)

	o.started = false
	o.super = nil
	o.queue = nil
	o.store = nil
	o.settings = nil
	o.lock = nil

	o.log.Info("backend stopped")
	return errors.Join(errs...)
}

// Ports returns the resolved port map. Fails with ErrNotStarted before the
// first successful Start.
func (o *Orchestrator) Ports() (PortAllocation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ports == nil {
		return PortAllocation{}, ErrNotStarted
	}
	return *o.ports, nil
}

// UsingExternalServices reports whether development-mode probing found
// externally run services, in which case nothing was spawned.
func (o *Orchestrator) UsingExternalServices() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devReuse
}

// Status returns a point-in-time snapshot of every tracked service.
func (o *Orchestrator) Status() map[string]supervisor.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return map[string]supervisor.Status{}
	}
	return o.super.Status()
}

// Queue returns the operation queue, or nil before Start.
func (o *Orchestrator) Queue() *opqueue.Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue
}

// Store returns the storage layer, or nil before Start.
func (o *Orchestrator) Store() *storage.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store
}

// Settings returns the settings store, or nil before Start.
func (o *Orchestrator) Settings() settings.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settings == nil {
		return nil
	}
	return o.settings
}

// Mode returns the runtime mode this orchestrator was constructed with.
func (o *Orchestrator) Mode() Mode {
	return o.cfg.Mode
}
