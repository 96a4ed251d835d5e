package process

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"
)

func TestBaseProcess_SetupAndStartValidation(t *testing.T) {
	t.Parallel()

	t.Run("nil cmd", func(t *testing.T) {
		t.Parallel()

		b := NewBaseProcess("test-proc", nil)
		if err := b.SetupAndStart(nil, nil, nil); !errors.Is(err, ErrNilCmd) {
			t.Fatalf("error = %v, want ErrNilCmd", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()

		b := NewBaseProcess("test-proc", nil)
		if err := b.SetupAndStart(&exec.Cmd{}, nil, nil); !errors.Is(err, ErrEmptyCmdPath) {
			t.Fatalf("error = %v, want ErrEmptyCmdPath", err)
		}
	})

	t.Run("already started", func(t *testing.T) {
		t.Parallel()

		b := NewBaseProcess("test-proc", nil)
		if err := b.SetupAndStart(exec.Command("/bin/sleep", "60"), nil, nil); err != nil {
			t.Fatalf("first start: %v", err)
		}
		t.Cleanup(func() { _ = b.Stop(time.Second) })

		if err := b.SetupAndStart(exec.Command("/bin/sleep", "60"), nil, nil); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("error = %v, want ErrAlreadyStarted", err)
		}
	})
}

func TestBaseProcess_StdoutLines(t *testing.T) {
	t.Parallel()

	b := NewBaseProcess("test-proc", nil)

	var mu sync.Mutex
	var lines []string
	err := b.SetupAndStart(
		exec.Command("/bin/sh", "-c", "echo first; echo second"),
		func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
		nil,
	)
	if err != nil {
		t.Fatalf("SetupAndStart: %v", err)
	}

	select {
	case <-b.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("stdout lines = %v, want [first second]", lines)
	}
}

func TestBaseProcess_ExitError(t *testing.T) {
	t.Parallel()

	b := NewBaseProcess("test-proc", nil)
	if err := b.SetupAndStart(exec.Command("/bin/sh", "-c", "exit 3"), nil, nil); err != nil {
		t.Fatalf("SetupAndStart: %v", err)
	}

	select {
	case <-b.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if got := ExitReason(b.ExitError()); got != "exit code 3" {
		t.Fatalf("ExitReason = %q, want %q", got, "exit code 3")
	}
}

func TestBaseProcess_StopGraceful(t *testing.T) {
	t.Parallel()

	b := NewBaseProcess("test-proc", nil)
	if err := b.SetupAndStart(exec.Command("/bin/sleep", "60"), nil, nil); err != nil {
		t.Fatalf("SetupAndStart: %v", err)
	}

	start := time.Now()
	if err := b.Stop(10 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("graceful stop took %s, expected prompt SIGTERM exit", elapsed)
	}
	if b.IsStarted() {
		t.Fatal("IsStarted = true after Stop")
	}
}

func TestBaseProcess_StopEscalatesToKill(t *testing.T) {
	t.Parallel()

	b := NewBaseProcess("test-proc", nil)
	// The child ignores SIGTERM, forcing the SIGKILL escalation after the
	// 5s grace period.
	cmd := exec.Command("/bin/sh", "-c", `trap "" TERM; while true; do sleep 0.1; done`)
	if err := b.SetupAndStart(cmd, nil, nil); err != nil {
		t.Fatalf("SetupAndStart: %v", err)
	}

	start := time.Now()
	if err := b.Stop(10 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 4500*time.Millisecond {
		t.Fatalf("stop returned after %s, before the SIGTERM grace period elapsed", elapsed)
	}
	if elapsed > 7*time.Second {
		t.Fatalf("stop took %s, SIGKILL escalation should land at ~5s", elapsed)
	}
}

func TestBaseProcess_StopNotStarted(t *testing.T) {
	t.Parallel()

	b := NewBaseProcess("test-proc", nil)
	if err := b.Stop(time.Second); err != nil {
		t.Fatalf("Stop on never-started process: %v", err)
	}
}
