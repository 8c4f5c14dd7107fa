// Package history records pipeline runs in a SQLite journal.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/grocky/ripeness-detector/internal/state"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Run is one journal entry. Ended is zero and Outcome empty while the run is
// in progress.
type Run struct {
	ID      string           `json:"id"`
	Source  string           `json:"source"`
	Started time.Time        `json:"started"`
	Ended   time.Time        `json:"ended,omitempty"`
	Outcome string           `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
	Frames  int              `json:"frames"`
	Counts  state.CountState `json:"counts"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	outcome    TEXT,
	error      TEXT,
	frames     INTEGER NOT NULL DEFAULT 0,
	ripe       INTEGER NOT NULL DEFAULT 0,
	unripe     INTEGER NOT NULL DEFAULT 0,
	overripe   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Journal stores runs in SQLite.
type Journal struct {
	db     *sql.DB
	clock  clock.Clock
	logger logrus.FieldLogger
}

// Option customizes a Journal.
type Option func(*Journal)

// WithClock sets the clock used for run timestamps.
func WithClock(c clock.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// Open opens or creates the journal at path.
func Open(path string, logger logrus.FieldLogger, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	j := &Journal{
		db:     db,
		clock:  clock.New(),
		logger: logger.WithField("component", "history"),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger.WithField("path", path).Debug("journal opened")
	return j, nil
}

// Begin inserts a new in-progress run and returns its ID. An empty id is
// replaced with a fresh UUID.
func (j *Journal) Begin(ctx context.Context, id, source string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at) VALUES (?, ?, ?)`,
		id, source, j.clock.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run.
func (j *Journal) Finish(ctx context.Context, id, outcome string, runErr error, frames int, counts state.CountState) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ?, error = ?, frames = ?, ripe = ?, unripe = ?, overripe = ?
		 WHERE id = ?`,
		j.clock.Now().UnixMilli(), outcome, errText, frames,
		counts.Ripe, counts.Unripe, counts.Overripe, id)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one run.
func (j *Journal) Get(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

// List returns up to limit runs, newest first. limit <= 0 returns all runs.
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

const selectRuns = `SELECT id, source, started_at, ended_at, outcome, error, frames, ripe, unripe, overripe FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r       Run
		started int64
		ended   sql.NullInt64
		outcome sql.NullString
		errText sql.NullString
	)
	err := s.Scan(&r.ID, &r.Source, &started, &ended, &outcome, &errText, &r.Frames,
		&r.Counts.Ripe, &r.Counts.Unripe, &r.Counts.Overripe)
	if err != nil {
		return Run{}, err
	}
	r.Started = time.UnixMilli(started).UTC()
	if ended.Valid {
		r.Ended = time.UnixMilli(ended.Int64).UTC()
	}
	r.Outcome = outcome.String
	r.Error = errText.String
	return r, nil
}
