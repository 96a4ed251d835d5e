package process

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// ErrAlreadyStarted is returned when SetupAndStart is called on a process
// that is already running. Callers must Stop the process before starting it
// again.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned when SetupAndStart is called with a nil *exec.Cmd.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned when SetupAndStart is called with an empty cmd.Path.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// OutputHandler receives one line of child process output at a time, without
// the trailing newline. Handlers are called from the scanning goroutine and
// must not block for long; a slow handler backpressures the child's pipe.
type OutputHandler func(line string)

// BaseProcess provides common child process lifecycle management: spawn with
// scanned stdio, one cmd.Wait goroutine, and signal-based stop. Embed this
// in service-specific types to reuse Stop and the exit channel.
//
// BaseProcess is not safe for concurrent use. Callers must serialize access
// to all methods. In practice each supervised service owns one BaseProcess
// behind the supervisor's per-service mutex.
type BaseProcess struct {
	cmd      *exec.Cmd
	waitDone <-chan error    // receives cmd.Wait result; started once in SetupAndStart
	exited   <-chan struct{} // closed when the process exits; readable by multiple goroutines
	exitErr  error           // cmd.Wait result; valid only after exited is closed
	pid      int
	name     string
	log      *slog.Logger
}

// NewBaseProcess creates a BaseProcess with the given name and logger.
// If logger is nil, slog.Default() is used. Panics if name is empty, since
// an empty name produces confusing error messages throughout the process
// lifecycle.
func NewBaseProcess(name string, logger *slog.Logger) BaseProcess {
	if name == "" {
		panic("process: name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return BaseProcess{name: name, log: logger}
}

// SetupAndStart wires stdout/stderr pipes, starts the command, and launches
// the scanning and wait goroutines. The cmd must already have Path, Args,
// Env, and Dir set.
//
// Each stdout line is passed to onStdout and each stderr line to onStderr
// (either may be nil). Lines are also logged at debug (stdout) and warn
// (stderr) level under the process name.
//
// A single goroutine calling cmd.Wait is started here so that exactly one
// Wait call is made per process. cmd.Wait is deferred until both pipe
// scanners hit EOF, as required by the os/exec pipe contract. The resulting
// channel is consumed by Stop; the exited channel is a broadcast signal for
// any number of observers.
//
// Returns ErrAlreadyStarted if the process is already running.
func (b *BaseProcess) SetupAndStart(cmd *exec.Cmd, onStdout, onStderr OutputHandler) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if b.cmd != nil {
		return ErrAlreadyStarted
	}

	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", b.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", b.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s process: %w", b.name, err)
	}
	b.cmd = cmd
	b.pid = cmd.Process.Pid

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		scanLines(stdout, b.scanHandler(slog.LevelDebug, "stdout", onStdout))
	}()
	go func() {
		defer scanners.Done()
		scanLines(stderr, b.scanHandler(slog.LevelWarn, "stderr", onStderr))
	}()

	// Two channels are created:
	//   - done (buffered 1): receives the Wait error, consumed once by Stop.
	//   - exited (closed on exit): broadcast signal readable by any number
	//     of goroutines (e.g., crash monitors) to detect process exit.
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		// cmd.Wait must not run until all pipe reads have completed.
		scanners.Wait()
		err := cmd.Wait()
		b.exitErr = err
		done <- err
		close(exited)
	}()
	b.waitDone = done
	b.exited = exited

	return nil
}

// scanHandler builds the per-line callback for one output stream: log the
// line under the process name, then forward it to the caller's handler.
func (b *BaseProcess) scanHandler(level slog.Level, stream string, next OutputHandler) OutputHandler {
	return func(line string) {
		b.log.Log(context.Background(), level, line, "process", b.name, "stream", stream)
		if next != nil {
			next(line)
		}
	}
}

// Stop terminates the process with the given timeout using the
// SIGTERM-then-SIGKILL sequence. After Stop returns, IsStarted reports false
// regardless of whether the stop succeeded, because the process is no longer
// in a known-running state. Safe to call when the process was never started
// or Stop was already called; returns nil immediately in those cases.
func (b *BaseProcess) Stop(timeout time.Duration) error {
	if b.cmd == nil || b.cmd.Process == nil {
		b.cmd = nil
		b.waitDone = nil
		b.exited = nil
		return nil
	}
	pid := b.cmd.Process.Pid
	err := stopWithDone(b.cmd, b.waitDone, timeout, b.name)
	if err != nil {
		b.log.Warn("process stop failed; process may be orphaned",
			"process", b.name, "pid", pid, "error", err)
	}
	b.cmd = nil
	b.waitDone = nil
	b.exited = nil
	return err
}

// IsStarted reports whether the process has been started and not yet stopped.
func (b *BaseProcess) IsStarted() bool {
	return b.cmd != nil
}

// PID returns the OS process id of the last started process, or 0 if the
// process was never started.
func (b *BaseProcess) PID() int {
	return b.pid
}

// Exited returns a channel that is closed when the process exits. It is safe
// to select on from any number of goroutines. Returns nil if the process has
// not been started or has already been stopped.
func (b *BaseProcess) Exited() <-chan struct{} {
	return b.exited
}

// ExitError returns the cmd.Wait result. It must only be called after the
// Exited channel is closed; the channel close provides the happens-before
// edge that makes the read safe.
func (b *BaseProcess) ExitError() error {
	return b.exitErr
}

// Logger returns the logger used by this process.
func (b *BaseProcess) Logger() *slog.Logger {
	return b.log
}
