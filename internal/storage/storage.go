package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/xixas/interview-app-sub000/internal/fileutil"
	"github.com/xixas/interview-app-sub000/internal/opqueue"
	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// ErrClosed is returned by storage methods after Close.
const ErrClosed = sentinel.Error("storage is closed")

// Database file names inside the data directory. The questions database is
// read-only reference content; the app database holds everything the user
// produces.
const (
	appDBFile       = "interview.db"
	questionsDBFile = "questions.db"
)

// busyTimeoutMillis bounds how long a blocked SQLite call waits on the file
// lock before surfacing SQLITE_BUSY. With all access serialized through the
// operation queue this should never trigger from inside the process, but
// external tooling poking at the file can still hold the lock briefly.
const busyTimeoutMillis = 5000

// Config holds configuration for opening a Store.
type Config struct {
	// DataDir is the directory holding the database files. Created if
	// missing.
	DataDir string

	// QuestionsSource optionally points at a bundled questions database.
	// When set and the data directory does not yet contain one, the file
	// is copied in on first open.
	QuestionsSource string

	// Logger is the logger to use. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("DataDir must not be empty"))
	}
	return errors.Join(errs...)
}

// Store is the handle to the embedded database. All access is serialized
// through the operation queue passed to Open; Store itself holds no locks.
type Store struct {
	db    *sql.DB
	queue *opqueue.Queue
	log   *slog.Logger

	dataDir string
	closed  chan struct{}
}

// Open creates the data directory, seeds the bundled questions database if
// needed, opens the app database, and bootstraps its schema. Any failure
// here is fatal to startup: a host process without its database has nothing
// to serve.
//
// queue must already be running; the schema bootstrap is the store's first
// queued operation.
func Open(ctx context.Context, cfg Config, queue *opqueue.Queue) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if queue == nil {
		return nil, errors.New("storage requires an operation queue")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := seedQuestions(cfg); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.DataDir, appDBFile)

	// WAL keeps readers off the writer's back, busy_timeout papers over
	// brief external lock holders, and NORMAL synchronous is acceptable
	// for local app data that is cheap to re-create relative to the fsync
	// cost of FULL.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, busyTimeoutMillis,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Single connection: SQLite has one writer anyway, and the operation
	// queue already guarantees one caller at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}

	s := &Store{
		db:      db,
		queue:   queue,
		log:     cfg.Logger,
		dataDir: cfg.DataDir,
		closed:  make(chan struct{}),
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	s.log.Debug("storage opened", "path", dbPath)
	return s, nil
}

// seedQuestions copies the bundled questions database into the data
// directory on first run. An existing file is never overwritten; the user
// may have a newer bundle than the one shipped with this build.
func seedQuestions(cfg Config) error {
	if cfg.QuestionsSource == "" {
		return nil
	}
	dest := filepath.Join(cfg.DataDir, questionsDBFile)
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat questions database: %w", err)
	}

	// Atomic write so a crash mid-copy never leaves a truncated database.
	if err := fileutil.CopyFile(cfg.QuestionsSource, dest, &fileutil.CopyFileOptions{Atomic: true, Sync: true}); err != nil {
		return fmt.Errorf("seed questions database: %w", err)
	}
	cfg.Logger.Info("seeded questions database",
		"from", cfg.QuestionsSource, "to", dest)
	return nil
}

// initSchema creates the tables on first open. Runs through the queue as a
// priority operation so it lands ahead of any early submissions.
func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			mode         TEXT NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS answers (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			question_id INTEGER NOT NULL,
			response    TEXT NOT NULL,
			score       REAL,
			created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
		CREATE TABLE IF NOT EXISTS service_events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			state   TEXT NOT NULL,
			port    INTEGER NOT NULL,
			pid     INTEGER NOT NULL,
			detail  TEXT NOT NULL DEFAULT '',
			at      TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service, at);
	`
	_, err := s.exec(ctx, true, func(ctx context.Context) (any, error) {
		_, execErr := s.db.ExecContext(ctx, schema)
		return nil, execErr
	})
	return err
}

// DatabasePath returns the path of the app database, for handing to child
// services through their environment.
func (s *Store) DatabasePath() string {
	return filepath.Join(s.dataDir, appDBFile)
}

// QuestionsPath returns the path of the questions database, seeded or not.
func (s *Store) QuestionsPath() string {
	return filepath.Join(s.dataDir, questionsDBFile)
}

// Close releases the database handle. Callers must drain the operation
// queue first; queued work that touches the handle after Close fails.
func (s *Store) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// exec submits work to the operation queue and waits for its result. Every
// public storage method funnels through here; nothing else may touch s.db.
func (s *Store) exec(ctx context.Context, priority bool, work opqueue.Work) (any, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	res := <-s.queue.Execute(ctx, work, 0, priority)
	return res.Value, res.Err
}
