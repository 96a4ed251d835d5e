// Package storage owns the embedded SQLite database behind the host
// process: practice sessions, recorded answers, and service status events.
//
// The database is a single-writer store. Every read and write goes through
// the operation queue, so the *sql.DB handle is only ever touched from the
// queue's worker goroutine; storage methods are thin wrappers that submit
// work and wait for the result.
package storage
