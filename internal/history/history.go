// Package history persists the outcome of past job runs in a local SQLite
// database so operators can inspect what ran on a robot and how it ended.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/supervisor"
)

// Record describes one job run.
type Record struct {
	ID           int64
	Hostname     string
	BackendType  string
	Task         string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Success      bool
	BackendError bool
	UserExitCode *int
	Error        string
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	// WAL and a busy timeout keep concurrent readers (e.g. the history CLI
	// command) from tripping over the writer.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL,
		backend_type TEXT NOT NULL,
		task TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		success BOOLEAN NOT NULL DEFAULT 0,
		backend_error BOOLEAN NOT NULL DEFAULT 0,
		user_exit_code INTEGER,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordStart inserts a new run and returns its ID.
func (s *Store) RecordStart(backendType, task string) (int64, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (hostname, backend_type, task, started_at)
		VALUES (?, ?, ?, ?)
	`, hostname, backendType, task, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}

	return res.LastInsertId()
}

// RecordResult stores the verdict of a finished run.
func (s *Store) RecordResult(id int64, verdict supervisor.Verdict) error {
	var exitCode sql.NullInt64
	if verdict.UserExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*verdict.UserExitCode), Valid: true}
	}

	result, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, success = ?, backend_error = ?, user_exit_code = ?
		WHERE id = ?
	`, time.Now(), verdict.Success, verdict.BackendHadError, exitCode, id)
	if err != nil {
		return fmt.Errorf("failed to record run result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run %d not found", id)
	}

	return nil
}

// RecordError stores a fatal error for a run that did not reach a verdict.
func (s *Store) RecordError(id int64, runErr error) error {
	result, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, success = 0, error = ? WHERE id = ?
	`, time.Now(), runErr.Error(), id)
	if err != nil {
		return fmt.Errorf("failed to record run error: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run %d not found", id)
	}

	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, hostname, backend_type, task, started_at, finished_at,
		       success, backend_error, user_exit_code, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var finishedAt sql.NullTime
		var exitCode sql.NullInt64

		if err := rows.Scan(&rec.ID, &rec.Hostname, &rec.BackendType, &rec.Task,
			&rec.StartedAt, &finishedAt, &rec.Success, &rec.BackendError,
			&exitCode, &rec.Error); err != nil {
			return nil, err
		}

		if finishedAt.Valid {
			rec.FinishedAt = &finishedAt.Time
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.UserExitCode = &code
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
