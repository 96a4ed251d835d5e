package process

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

// makeSignalExitError spawns a short-lived process, delivers sig to it, and
// returns the resulting *exec.ExitError from Wait.
func makeSignalExitError(t *testing.T, sig syscall.Signal) error {
	t.Helper()

	cmd := exec.Command("/bin/sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	if err := cmd.Process.Signal(sig); err != nil {
		t.Fatalf("signal sleep: %v", err)
	}
	err := cmd.Wait()
	if err == nil {
		t.Fatal("expected Wait error after signal, got nil")
	}
	return err
}

func TestExpectSignalExit(t *testing.T) {
	t.Parallel()

	type testCase struct {
		err     error
		signal  syscall.Signal
		wantErr bool
	}

	tests := map[string]testCase{
		"nil error returns nil": {
			wantErr: false,
		},
		"SIGTERM exit is expected": {
			signal:  syscall.SIGTERM,
			wantErr: false,
		},
		"SIGKILL exit is expected": {
			signal:  syscall.SIGKILL,
			wantErr: false,
		},
		"other signal is unexpected": {
			signal:  syscall.SIGINT,
			wantErr: true,
		},
		"non-ExitError is unexpected": {
			err:     errors.New("some other error"),
			wantErr: true,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			inputErr := tc.err
			if inputErr == nil && tc.signal != 0 {
				inputErr = makeSignalExitError(t, tc.signal)
			}

			got := expectSignalExit(inputErr, "test-proc")

			if tc.wantErr && got == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && got != nil {
				t.Fatalf("expected nil, got %v", got)
			}
		})
	}
}

func TestExitReason(t *testing.T) {
	t.Parallel()

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		if got := ExitReason(nil); got != "exit code 0" {
			t.Fatalf("ExitReason(nil) = %q", got)
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		t.Parallel()
		cmd := exec.Command("/bin/sh", "-c", "exit 3")
		err := cmd.Run()
		if got := ExitReason(err); got != "exit code 3" {
			t.Fatalf("ExitReason = %q, want %q", got, "exit code 3")
		}
	})

	t.Run("killed", func(t *testing.T) {
		t.Parallel()
		err := makeSignalExitError(t, syscall.SIGKILL)
		if got := ExitReason(err); got != "signal: killed" {
			t.Fatalf("ExitReason = %q, want %q", got, "signal: killed")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		err := errors.New("spawn failed")
		if got := ExitReason(err); got != "spawn failed" {
			t.Fatalf("ExitReason = %q", got)
		}
	})
}

func TestDrainDone(t *testing.T) {
	t.Parallel()

	t.Run("delivers in time", func(t *testing.T) {
		t.Parallel()

		done := make(chan error, 1)
		done <- errors.New("wait result")
		ok, err := drainDone(done, time.Second)
		if !ok {
			t.Fatal("expected ok")
		}
		if err == nil || err.Error() != "wait result" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()

		done := make(chan error)
		ok, err := drainDone(done, 20*time.Millisecond)
		if ok {
			t.Fatal("expected timeout")
		}
		if err != nil {
			t.Fatalf("expected nil error on timeout, got %v", err)
		}
	})
}
