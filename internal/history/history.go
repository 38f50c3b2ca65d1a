// Package history keeps a capacity-bounded record of finished jobs in
// sqlite. Every job that reaches a terminal state gets one row; the oldest
// rows are evicted once the configured limit is exceeded.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/spindle-dl/spindle/internal/logger"
)

const (
	// DefaultLimit matches the default history_limit setting.
	DefaultLimit = 100

	// MinLimit is the floor below which trimming would eat fresh entries.
	MinLimit = 10
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	target TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	started_at DATETIME,
	finished_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	destination TEXT NOT NULL DEFAULT '',
	log_path TEXT NOT NULL DEFAULT '',
	new_files INTEGER NOT NULL DEFAULT 0,
	suspects INTEGER NOT NULL DEFAULT 0,
	artist TEXT NOT NULL DEFAULT '',
	album TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_history_state_target ON history(state, target);
`

// Entry is one finished job.
type Entry struct {
	ID          int64     `db:"id" json:"id"`
	JobID       string    `db:"job_id" json:"job_id"`
	Target      string    `db:"target" json:"target"`
	Kind        string    `db:"kind" json:"kind,omitempty"`
	Format      string    `db:"format" json:"format,omitempty"`
	State       string    `db:"state" json:"state"`
	Reason      string    `db:"reason" json:"reason,omitempty"`
	Attempts    int       `db:"attempts" json:"attempts"`
	Source      string    `db:"source" json:"source,omitempty"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
	DurationMs  int64     `db:"duration_ms" json:"duration_ms"`
	Destination string    `db:"destination" json:"destination,omitempty"`
	LogPath     string    `db:"log_path" json:"log_path,omitempty"`
	NewFiles    int       `db:"new_files" json:"new_files"`
	Suspects    int       `db:"suspects" json:"suspects"`
	Artist      string    `db:"artist" json:"artist,omitempty"`
	Album       string    `db:"album" json:"album,omitempty"`
}

// Store is the sqlite-backed history. Safe for concurrent use; sqlite's
// WAL mode and busy timeout carry the contention.
type Store struct {
	db    *sqlx.DB
	limit int
	log   *logger.Logger
}

// Open creates or opens the history database at path and applies the
// schema. The limit is clamped to MinLimit.
func Open(path string, limit int, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("history")

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit < MinLimit {
		limit = MinLimit
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// Set pragmas for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	log.Debug("history opened", "path", path, "limit", limit)
	return &Store{db: db, limit: limit, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Limit reports the configured capacity.
func (s *Store) Limit() int { return s.limit }

// Append records one finished job and evicts the oldest rows beyond the
// capacity. Returns the new row id.
func (s *Store) Append(e Entry) (int64, error) {
	if e.DurationMs == 0 && !e.StartedAt.IsZero() && !e.FinishedAt.IsZero() {
		e.DurationMs = e.FinishedAt.Sub(e.StartedAt).Milliseconds()
	}

	res, err := s.db.NamedExec(`INSERT INTO history (
		job_id, target, kind, format, state, reason, attempts, source,
		started_at, finished_at, duration_ms, destination, log_path,
		new_files, suspects, artist, album
	) VALUES (
		:job_id, :target, :kind, :format, :state, :reason, :attempts, :source,
		:started_at, :finished_at, :duration_ms, :destination, :log_path,
		:new_files, :suspects, :artist, :album
	)`, e)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := s.db.Exec(
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		s.limit,
	); err != nil {
		s.log.Warn("history trim failed", "error", err)
	}

	s.log.Debug("history appended", "job_id", e.JobID, "state", e.State)
	return id, nil
}

// Recent returns up to n entries, newest first. n <= 0 means the full
// capacity.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 || n > s.limit {
		n = s.limit
	}
	entries := []Entry{}
	err := s.db.Select(&entries, `SELECT * FROM history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// LastRun returns the most recent entry, or nil when the history is empty.
func (s *Store) LastRun() (*Entry, error) {
	var e Entry
	err := s.db.Get(&e, `SELECT * FROM history ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TargetsInState returns the distinct targets that finished in the given
// state. The sentry uses this to skip links that already succeeded.
func (s *Store) TargetsInState(state string) (map[string]bool, error) {
	var targets []string
	if err := s.db.Select(&targets, `SELECT DISTINCT target FROM history WHERE state = ?`, state); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(targets))
	for _, t := range targets {
		out[t] = true
	}
	return out, nil
}

// Count reports the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM history`); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM history`)
	return err
}
