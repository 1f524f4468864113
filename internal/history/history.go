// Package history records supervised runs in a local SQLite database
// (modernc.org/sqlite driver, CGO-free). Recording is optional and
// best-effort: a broken history store must never take the daemon down.
package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one supervised run.
type Record struct {
	ID        int64
	Name      string
	PID       int
	ChildPID  int
	StartedAt time.Time
	StoppedAt time.Time
	Running   bool
	ExitErr   string
}

// Store persists run records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// in-memory store.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daemon_runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			child_pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			exit_err TEXT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_runs_name ON daemon_runs(name);`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_runs_running ON daemon_runs(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordStart inserts a running entry and returns its id.
func (s *Store) RecordStart(ctx context.Context, name string, pid, childPID int, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_runs(name, pid, child_pid, started_at, stopped_at, running, exit_err, updated_at)
		VALUES(?, ?, ?, ?, NULL, 1, NULL, ?);`,
		name, pid, childPID, startedAt.UTC(), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordExit marks a run as finished.
func (s *Store) RecordExit(ctx context.Context, id int64, stoppedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_runs
		SET running=0, stopped_at=?, exit_err=?, updated_at=?
		WHERE id=?;`,
		stoppedAt.UTC(), errStr, time.Now().UTC(), id)
	return err
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, pid, child_pid, started_at, stopped_at, running, exit_err
		FROM daemon_runs ORDER BY started_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		var r Record
		var stopped sql.NullTime
		var exitErr sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.PID, &r.ChildPID, &r.StartedAt, &stopped, &r.Running, &exitErr); err != nil {
			return nil, err
		}
		if stopped.Valid {
			r.StoppedAt = stopped.Time
		}
		if exitErr.Valid {
			r.ExitErr = exitErr.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
