// Package jobstore is the authoritative store of jobs, chunks, and
// accumulated questions, backed by SQLite. Every state transition is a
// single SQL statement; the chunk claim in particular is one atomic
// check-and-set, which is what lets multiple actors race on a job without
// double-processing a chunk.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrJobNotFound is returned for jobs that are absent or past expiry.
	ErrJobNotFound = errors.New("job not found")
	// ErrChunkNotFound is returned for chunk indexes outside the job's plan.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrChunkDone is returned when an operation targets a chunk that has
	// already completed. done is terminal; callers treat this as success.
	ErrChunkDone = errors.New("chunk already done")
	// ErrLockLost is returned when a complete/fail arrives from an actor
	// that no longer holds the chunk lock.
	ErrLockLost = errors.New("chunk lock lost")
)

// LockConflictError reports a claim attempt on a chunk that is locked by
// another actor and not yet stale. RetryAfter is the time remaining until
// the lock would become reclaimable, clamped to a sensible range.
type LockConflictError struct {
	LockedBy   string
	RetryAfter time.Duration
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("chunk locked by %s, retry in %s", e.LockedBy, e.RetryAfter)
}

// Config holds store construction parameters.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string
	// StaleLockTimeout is the age after which a processing lock is
	// reclaimable by another actor. Default: 5m.
	StaleLockTimeout time.Duration
	// ExpiryTTL is how long a job lives after creation. Default: 24h.
	ExpiryTTL time.Duration
	// FailureCeiling is the cross-chunk consecutive-failure count that
	// aborts a job. Default: 3.
	FailureCeiling int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.StaleLockTimeout <= 0 {
		c.StaleLockTimeout = 5 * time.Minute
	}
	if c.ExpiryTTL <= 0 {
		c.ExpiryTTL = 24 * time.Hour
	}
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the SQLite-backed job record.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	staleAfter     time.Duration
	ttl            time.Duration
	failureCeiling int

	// now is swappable so lock-age behavior is testable without sleeping.
	now func() time.Time
}

// Open opens (creating if necessary) the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:             db,
		logger:         cfg.Logger,
		staleAfter:     cfg.StaleLockTimeout,
		ttl:            cfg.ExpiryTTL,
		failureCeiling: cfg.FailureCeiling,
		now:            time.Now,
	}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StaleLockTimeout reports the configured lock reclaim age.
func (s *Store) StaleLockTimeout() time.Duration {
	return s.staleAfter
}

// FailureCeiling reports the configured consecutive-failure abort threshold.
func (s *Store) FailureCeiling() int {
	return s.failureCeiling
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id                   TEXT PRIMARY KEY,
			owner                TEXT NOT NULL,
			title                TEXT NOT NULL,
			filename             TEXT NOT NULL DEFAULT '',
			file_size            INTEGER NOT NULL DEFAULT 0,
			page_count           INTEGER NOT NULL DEFAULT 0,
			storage_key          TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL,
			error                TEXT NOT NULL DEFAULT '',
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			created_at           INTEGER NOT NULL,
			expires_at           INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_owner  ON jobs (owner, created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_expiry ON jobs (expires_at);

		CREATE TABLE IF NOT EXISTS chunks (
			job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			idx        INTEGER NOT NULL,
			start_page INTEGER NOT NULL,
			end_page   INTEGER NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			error      TEXT NOT NULL DEFAULT '',
			locked_at  INTEGER,
			locked_by  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, idx)
		);

		CREATE TABLE IF NOT EXISTS questions (
			job_id    TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			hash      TEXT NOT NULL,
			position  INTEGER NOT NULL,
			chunk_idx INTEGER NOT NULL,
			payload   TEXT NOT NULL,
			PRIMARY KEY (job_id, hash)
		);
		CREATE INDEX IF NOT EXISTS idx_questions_order ON questions (job_id, position);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS extractions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id            TEXT NOT NULL,
			chunk_idx         INTEGER NOT NULL,
			provider          TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			duration_ms       INTEGER NOT NULL DEFAULT 0,
			success           INTEGER NOT NULL DEFAULT 1,
			created_at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_extractions_job ON extractions (job_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
