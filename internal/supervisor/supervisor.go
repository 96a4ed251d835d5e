package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xixas/interview-app-sub000/internal/process"
	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// DefaultReadyTimeout is the readiness budget for a spawned service: the
// maximum time Start waits for the readiness marker before marking the
// service Crashed. Start still resolves successfully on timeout so optional
// services never block application readiness.
const DefaultReadyTimeout = 15 * time.Second

// DefaultStopTimeout is the per-service stop budget covering the
// SIGTERM-then-SIGKILL sequence.
const DefaultStopTimeout = 5 * time.Second

// startupTimeoutReason is the error text recorded on a service whose
// readiness marker never appeared within the budget.
const startupTimeoutReason = "startup timeout"

// ErrUnknownService is returned by Stop when no service with the given name
// is tracked.
const ErrUnknownService = sentinel.Error("unknown service")

// ErrServiceActive is returned by Start when a service with the same name is
// already starting, running, or stopping. The previous spawn attempt must
// reach a terminal state before a new one begins.
const ErrServiceActive = sentinel.Error("service already active")

// Spec describes one backend service to spawn.
type Spec struct {
	Name         string            // Unique service name ("api", "evaluator")
	Binary       string            // Path to the service executable
	Args         []string          // Command-line arguments
	Dir          string            // Working directory (optional)
	Env          map[string]string // Extra environment, merged over os.Environ()
	Port         int               // Port the service was assigned, for status reporting
	ReadyMarker  string            // Stdout substring that signals readiness
	ReadyTimeout time.Duration     // Readiness budget; zero uses DefaultReadyTimeout
}

// validate checks that all required Spec fields are set and returns an error
// describing every violation found.
func (s Spec) validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("service name must not be empty"))
	}
	if s.Binary == "" {
		errs = append(errs, errors.New("service binary must not be empty"))
	}
	if s.ReadyMarker == "" {
		errs = append(errs, errors.New("ready marker must not be empty"))
	}
	return errors.Join(errs...)
}

// Config holds configuration for a Supervisor.
type Config struct {
	StopTimeout time.Duration // Per-service stop budget; zero uses DefaultStopTimeout
	Logger      *slog.Logger  // Optional, defaults to slog.Default()
}

// Supervisor tracks supervised backend services by name.
// It is safe for concurrent use.
type Supervisor struct {
	mu          sync.Mutex
	services    map[string]*service
	stopTimeout time.Duration
	log         *slog.Logger
}

// service holds one tracked service. Its mutex serializes lifecycle calls on
// the embedded BaseProcess and guards the status fields.
type service struct {
	mu        sync.Mutex
	spec      Spec
	base      process.BaseProcess
	state     State
	startedAt time.Time
	errText   string
}

// New creates a Supervisor. No services are tracked until Start is called.
func New(cfg Config) *Supervisor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		services:    make(map[string]*service),
		stopTimeout: stopTimeout,
		log:         log,
	}
}

// Start spawns the service described by spec and waits for its readiness
// marker on stdout.
//
// Outcomes:
//   - marker seen: service becomes Running, Start returns nil.
//   - spawn failure: service becomes Crashed, Start returns the error.
//   - process exits before the marker: service becomes Crashed with the exit
//     reason, Start returns nil (the host continues in degraded mode).
//   - no marker within the readiness budget: service becomes Crashed with
//     "startup timeout", Start returns nil. The OS process is left running
//     and is still terminated by Stop or StopAll.
//
// ctx bounds the child process lifetime: canceling it kills the process.
// Callers typically pass a long-lived context and stop services explicitly.
func (s *Supervisor) Start(ctx context.Context, spec Spec) error {
	if err := spec.validate(); err != nil {
		return fmt.Errorf("invalid service spec: %w", err)
	}
	if spec.ReadyTimeout <= 0 {
		spec.ReadyTimeout = DefaultReadyTimeout
	}

	svc, err := s.track(spec)
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	onStdout := func(line string) {
		if strings.Contains(line, spec.ReadyMarker) {
			readyOnce.Do(func() { close(ready) })
		}
	}

	svc.mu.Lock()
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec // G204: binary path comes from orchestrator config
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(spec.Env)
	if err := svc.base.SetupAndStart(cmd, onStdout, nil); err != nil {
		svc.state = StateCrashed
		svc.errText = err.Error()
		svc.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", spec.Name, err)
	}
	svc.startedAt = time.Now()
	exited := svc.base.Exited()
	svc.mu.Unlock()

	s.log.Info("service starting", "service", spec.Name, "port", spec.Port, "pid", svc.pid())

	timer := time.NewTimer(spec.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		svc.transition(StateStarting, StateRunning, "")
		s.log.Info("service ready", "service", spec.Name, "port", spec.Port)
		go s.monitor(svc, exited)
		return nil
	case <-exited:
		reason := process.ExitReason(svc.exitError())
		svc.transition(StateStarting, StateCrashed, reason)
		s.log.Warn("service exited before becoming ready",
			"service", spec.Name, "reason", reason)
		return nil
	case <-timer.C:
		svc.transition(StateStarting, StateCrashed, startupTimeoutReason)
		s.log.Warn("service readiness marker not seen within budget",
			"service", spec.Name, "timeout", spec.ReadyTimeout)
		return nil
	case <-ctx.Done():
		svc.transition(StateStarting, StateCrashed, ctx.Err().Error())
		return fmt.Errorf("start %s: %w", spec.Name, ctx.Err())
	}
}

// track registers a new service entry for spec, replacing a previous entry
// only if that entry is in a terminal state.
func (s *Supervisor) track(spec Spec) (*service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.services[spec.Name]; ok {
		existing.mu.Lock()
		active := existing.state == StateStarting ||
			existing.state == StateRunning ||
			existing.state == StateStopping
		existing.mu.Unlock()
		if active {
			return nil, fmt.Errorf("start %s: %w", spec.Name, ErrServiceActive)
		}
	}

	svc := &service{
		spec:  spec,
		base:  process.NewBaseProcess(spec.Name, s.log),
		state: StateStarting,
	}
	s.services[spec.Name] = svc
	return svc, nil
}

// monitor watches a Running service for unexpected exit and demotes it to
// Crashed. A service being stopped leaves Running before its process exits,
// so the guarded transition never overwrites Stopping or Stopped.
func (s *Supervisor) monitor(svc *service, exited <-chan struct{}) {
	<-exited
	reason := process.ExitReason(svc.exitError())
	if svc.transition(StateRunning, StateCrashed, reason) {
		s.log.Warn("service exited unexpectedly", "service", svc.spec.Name, "reason", reason)
	}
}

// Stop terminates the named service with the configured stop budget:
// SIGTERM, then SIGKILL if the process has not exited after the grace
// period. Stopping an already-stopped or crashed-and-exited service is a
// no-op. Returns ErrUnknownService if the name was never started.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	svc, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop %s: %w", name, ErrUnknownService)
	}
	return s.stopService(svc)
}

// stopService runs the stop sequence on one service. The service mutex is
// held for the duration so lifecycle calls on the BaseProcess stay
// serialized.
func (s *Supervisor) stopService(svc *service) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if !svc.base.IsStarted() {
		if svc.state != StateCrashed {
			svc.state = StateStopped
		}
		return nil
	}

	// A service Crashed by startup timeout still has a live OS process that
	// must be terminated, but Crashed is terminal for the spawn attempt so
	// its state is preserved.
	crashed := svc.state == StateCrashed
	if !crashed {
		svc.state = StateStopping
	}
	err := svc.base.Stop(s.stopTimeout)
	if !crashed {
		svc.state = StateStopped
	}
	if err != nil {
		return fmt.Errorf("stop %s: %w", svc.spec.Name, err)
	}
	s.log.Info("service stopped", "service", svc.spec.Name)
	return nil
}

// StopAll stops every tracked service in parallel and waits for all to
// settle. Errors are joined; a failure to stop one service does not abort
// the others.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	all := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		all = append(all, svc)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, svc := range all {
		svc := svc
		g.Go(func() error {
			return s.stopService(svc)
		})
	}
	return g.Wait()
}

// Status returns a point-in-time snapshot of every tracked service.
func (s *Supervisor) Status() map[string]Status {
	s.mu.Lock()
	all := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		all = append(all, svc)
	}
	s.mu.Unlock()

	out := make(map[string]Status, len(all))
	for _, svc := range all {
		st := svc.snapshot()
		out[st.Name] = st
	}
	return out
}

// transition moves the service from one state to another only if it is still
// in the expected state, recording errText on the way. Reports whether the
// transition happened. The guard keeps late events (readiness timeout, exit
// notification) from clobbering a state set by Stop.
func (svc *service) transition(from, to State, errText string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.state != from {
		return false
	}
	svc.state = to
	if errText != "" {
		svc.errText = errText
	}
	return true
}

// snapshot copies the service status under its mutex.
func (svc *service) snapshot() Status {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return Status{
		Name:      svc.spec.Name,
		State:     svc.state,
		Running:   svc.state == StateRunning,
		Port:      svc.spec.Port,
		PID:       svc.base.PID(),
		StartedAt: svc.startedAt,
		Err:       svc.errText,
	}
}

// pid returns the service PID under its mutex.
func (svc *service) pid() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.base.PID()
}

// exitError reads the process exit error. Only called after the exited
// channel is closed, which provides the required happens-before edge.
func (svc *service) exitError() error {
	return svc.base.ExitError()
}

// mergeEnv merges extra variables over the parent environment. Keys are
// appended in sorted order so the child environment is deterministic.
func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
