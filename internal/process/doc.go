// Package process provides utilities for managing external process lifecycle.
//
// It defines BaseProcess for common start/stop behavior: spawning a command
// with its stdout and stderr scanned line-by-line, a single cmd.Wait
// goroutine exposing a broadcast exit channel, and a SIGTERM-then-SIGKILL
// shutdown sequence with a bounded grace period. The Stoppable interface and
// StopCloseAndNil helper support atomic cleanup of process handles.
package process
