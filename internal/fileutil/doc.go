// Package fileutil provides file operation utilities for directory and file
// management.
//
// EnsureDir creates directories recursively, CopyFile copies files with
// support for explicit permissions, fsync, and atomic writes via
// temp-file-then-rename, and AcquireLock takes an exclusive advisory lock on
// a file. The orchestrator uses these to prepare its data directory, seed the
// bundled questions database, and guarantee that only one host process owns
// the writable database at a time.
package fileutil
