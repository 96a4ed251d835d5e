// Package settings holds user-facing preferences for the host process.
//
// The Store interface is the seam the orchestrator hands to components that
// need preferences; the file-backed implementation persists to a YAML file
// and picks up external edits through a filesystem watcher, so changes made
// while the app runs take effect without a restart.
package settings
