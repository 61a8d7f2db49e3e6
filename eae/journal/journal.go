// Package journal keeps a queryable history of runs and the changes each
// run detected.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/changes"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID         uuid.UUID
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Extracted  int
	Changes    int
}

// Change is one journaled change record.
type Change struct {
	RunID     uuid.UUID
	Path      string
	Status    string
	OldDigest string
	NewDigest string
}

// Journal is a libsql-backed run history.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create journal directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	j := &Journal{db: db, logger: logger.With().Str("component", "journal").Logger()}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}
	j.logger.Debug().Str("path", path).Msg("Journal opened")
	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY UNIQUE,
		root TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		extracted INTEGER DEFAULT 0,
		changes INTEGER DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = j.db.Exec(`CREATE TABLE IF NOT EXISTS changes (
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		old_digest TEXT,
		new_digest TEXT
	)`)
	if err != nil {
		return fmt.Errorf("failed to create changes table: %w", err)
	}

	if _, err := j.db.Exec(`CREATE INDEX IF NOT EXISTS changes_run ON changes (run_id)`); err != nil {
		return fmt.Errorf("failed to create changes index: %w", err)
	}
	return nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun inserts a running entry and returns its ID.
func (j *Journal) StartRun(ctx context.Context, root string, now time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO runs (id, root, started_at, status) VALUES (?, ?, ?, ?)",
		id.String(), root, now.UTC().Format(time.RFC3339Nano), StatusRunning)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the outcome of a run.
func (j *Journal) FinishRun(ctx context.Context, id uuid.UUID, now time.Time, status string, extracted, changed int) error {
	res, err := j.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, extracted = ?, changes = ? WHERE id = ?",
		now.UTC().Format(time.RFC3339Nano), status, extracted, changed, id.String())
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", n)
	}
	return nil
}

// RecordChanges stores the records of one run in a single transaction.
func (j *Journal) RecordChanges(ctx context.Context, id uuid.UUID, records []changes.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO changes (run_id, path, status, old_digest, new_digest) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, id.String(), r.Path, r.Status.String(), r.OldDigest, r.NewDigest); err != nil {
			return fmt.Errorf("failed to insert change %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. limit <= 0 returns all of them.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT id, root, started_at, COALESCE(finished_at, ''), status, extracted, changes FROM runs ORDER BY started_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			id, start, finish string
		)
		if err := rows.Scan(&id, &run.Root, &start, &finish, &run.Status, &run.Extracted, &run.Changes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse run id: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, start)
		if finish != "" {
			run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finish)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Changes returns the change records of a run in insertion order.
func (j *Journal) Changes(ctx context.Context, id uuid.UUID) ([]Change, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT path, status, COALESCE(old_digest, ''), COALESCE(new_digest, '') FROM changes WHERE run_id = ? ORDER BY rowid",
		id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		c := Change{RunID: id}
		if err := rows.Scan(&c.Path, &c.Status, &c.OldDigest, &c.NewDigest); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
