package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Run statuses. Finished runs use the supervisor exit statuses.
const (
	StatusRunning = "running"

	// StatusInterrupted marks runs that were still running when the
	// panel last stopped without recording their exit.
	StatusInterrupted = "interrupted"
)

// Run is one persisted test run.
type Run struct {
	ID         string     `json:"id"`
	Device     string     `json:"device,omitempty"`
	Binary     string     `json:"binary"`
	Args       []string   `json:"args"`
	OutputDir  string     `json:"output_dir,omitempty"`
	MirrorFile string     `json:"mirror_file,omitempty"`
	Status     string     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// UnitEvent is one recorded unit transition.
type UnitEvent struct {
	ID        int64     `json:"id"`
	Registry  string    `json:"registry"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores runs and unit events.
type Repository interface {
	StartRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status string, exitCode *int, at time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RecordEvent(ctx context.Context, ev *UnitEvent) error
	ListEvents(ctx context.Context, registry, key string, limit int) ([]UnitEvent, error)
}

// SQLiteRepository implements Repository on the runs and unit_events
// tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// StartRun inserts a run in the running state. StartedAt defaults to now.
func (r *SQLiteRepository) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" || run.Binary == "" {
		return fmt.Errorf("%w: id and binary are required", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Args == nil {
		run.Args = []string{}
	}
	run.Status = StatusRunning

	argsJSON, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("marshalling run args: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO runs (id, device, binary, args, output_dir, mirror_file, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Device, run.Binary, string(argsJSON), run.OutputDir, run.MirrorFile,
		run.Status, run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status string, exitCode *int, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		status, nullableInt(exitCode), at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

// InterruptRunning finishes every run still in the running state as
// interrupted and returns how many were changed. It is meant for startup,
// before any run of this process exists.
func (r *SQLiteRepository) InterruptRunning(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE status = ?`,
		StatusInterrupted, at.UTC().Format(timeLayout), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("interrupting runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("interrupting runs: %w", err)
	}
	return n, nil
}

const runColumns = `id, device, binary, args, output_dir, mirror_file, status, exit_code, started_at, finished_at`

// GetRun returns one run.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first (default 50, max 200).
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// RecordEvent appends a unit transition. CreatedAt defaults to now.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev *UnitEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO unit_events (registry, unit_key, kind, reason, pid, exit_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Registry, ev.Key, ev.Kind, ev.Reason, ev.PID, nullableInt(ev.ExitCode),
		ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting unit event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListEvents returns recent transitions of one unit, newest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, registry, key string, limit int) ([]UnitEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, registry, unit_key, kind, reason, pid, exit_code, created_at
		 FROM unit_events WHERE registry = ? AND unit_key = ? ORDER BY id DESC LIMIT ?`,
		registry, key, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying unit events: %w", err)
	}
	defer rows.Close()

	out := []UnitEvent{}
	for rows.Next() {
		var ev UnitEvent
		var code sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Registry, &ev.Key, &ev.Kind, &ev.Reason, &ev.PID, &code, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning unit event: %w", err)
		}
		ev.ExitCode = intPtr(code)
		ev.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing unit event timestamp %q: %w", createdAt, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unit events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var argsJSON, startedAt string
	var code sql.NullInt64
	var finishedAt sql.NullString

	err := s.Scan(&run.ID, &run.Device, &run.Binary, &argsJSON, &run.OutputDir, &run.MirrorFile,
		&run.Status, &code, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	if err := json.Unmarshal([]byte(argsJSON), &run.Args); err != nil {
		return nil, fmt.Errorf("decoding args of run %s: %w", run.ID, err)
	}
	run.ExitCode = intPtr(code)
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parsing run timestamp %q: %w", startedAt, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing run timestamp %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
