// Package journal keeps a SQLite record of seeding runs.
//
// Each run stores one entry per realised entity: the stage that created
// it, its logical name, the id the LMS assigned and the canonical id it
// was remapped to. The journal is informational; seeding never reads it
// back.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on entries(kind)
const currentSchemaVersion = 1

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNoRuns is returned by LatestRun on an empty journal.
var ErrNoRuns = errors.New("journal has no runs")

// Run is one seeding run.
type Run struct {
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"` // zero while running
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Entry is one realised entity.
type Entry struct {
	Seq         int64  `json:"seq"`
	Stage       string `json:"stage"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	RemoteID    int64  `json:"remote_id"`
	CanonicalID int64  `json:"canonical_id"`
}

// Journal is a SQLite-backed run journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithNow overrides the wall clock used for run timestamps.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open creates or opens the journal at path and applies migrations.
//
// The database is configured with WAL mode, a 5-second busy timeout and
// foreign key enforcement. Open is idempotent.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite has one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// RunWriter appends entries to one run.
type RunWriter struct {
	j     *Journal
	runID string
	clock *Clock
}

// BeginRun inserts a run in the running state.
func (j *Journal) BeginRun(ctx context.Context, runID, server string) (*RunWriter, error) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, server, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, server, formatTime(j.now()), StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("begin run %s: %w", runID, err)
	}
	return &RunWriter{j: j, runID: runID, clock: NewClockAt(0)}, nil
}

// RunID returns the id of the run being written.
func (w *RunWriter) RunID() string {
	return w.runID
}

// Record appends e, stamping it with the next sequence number.
func (w *RunWriter) Record(ctx context.Context, e Entry) error {
	e.Seq = w.clock.Next()
	_, err := w.j.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, seq, stage, kind, name, remote_id, canonical_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.runID, e.Seq, e.Stage, e.Kind, e.Name, e.RemoteID, e.CanonicalID)
	if err != nil {
		return fmt.Errorf("record %s %q: %w", e.Kind, e.Name, err)
	}
	return nil
}

// Finish marks the run succeeded, or failed with runErr.
func (w *RunWriter) Finish(ctx context.Context, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := w.j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		formatTime(w.j.now()), status, msg, w.runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", w.runID, err)
	}
	return nil
}

// Runs returns every run, newest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, server, started_at, finished_at, status, error
		 FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (j *Journal) Run(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, server, started_at, finished_at, status, error FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, server, started_at, finished_at, status, error
		 FROM runs ORDER BY id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	return run, err
}

// Entries returns the entries of a run in sequence order.
func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, stage, kind, name, remote_id, canonical_id
		 FROM entries WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Stage, &e.Kind, &e.Name, &e.RemoteID, &e.CanonicalID); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	if err := s.Scan(&run.ID, &run.Server, &started, &finished, &run.Status, &run.Error); err != nil {
		return Run{}, err
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, err
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse journal time %q: %w", s, err)
	}
	return t, nil
}
