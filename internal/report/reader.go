package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Reader reads runs and results from a report database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens a report database for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('runs', 'results')").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count != 2 {
		db.Close()
		return nil, fmt.Errorf("database %s is not a negafix report", path)
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// Metadata reads the database-level metadata.
func (r *Reader) Metadata(ctx context.Context) (Metadata, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	metaMap := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		metaMap[name] = value.String
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	meta := Metadata{
		Tool:    metaMap["tool"],
		Version: metaMap["version"],
	}
	if v, ok := metaMap["schema_version"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.SchemaVersion = i
		}
	}
	return meta, nil
}

const runColumns = "id, src_dir, dst_dir, config, started_at, finished_at, total, succeeded, failed, skipped"

// Runs lists all runs, newest first.
func (r *Reader) Runs(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Run returns a single run. id <= 0 selects the most recent run.
func (r *Reader) Run(ctx context.Context, id int64) (Run, error) {
	var row *sql.Row
	if id <= 0 {
		row = r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT 1")
	} else {
		row = r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	}

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		if id <= 0 {
			return Run{}, fmt.Errorf("%w: database has no runs", ErrRunNotFound)
		}
		return Run{}, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

// Results returns the stored outcomes of a run in name order.
func (r *Reader) Results(ctx context.Context, runID int64, failuresOnly bool) ([]Entry, error) {
	query := "SELECT run_id, name, status, stage, error, elapsed_ms, gain_red, gain_green, gain_blue, exposure " +
		"FROM results WHERE run_id = ?"
	if failuresOnly {
		query += " AND status = 'failed'"
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.RunID, &e.Name, &e.Status, &e.Stage, &e.Error, &ms,
			&e.Gains.Red, &e.Gains.Green, &e.Gains.Blue, &e.Exposure); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		e.Elapsed = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
	)
	err := row.Scan(&run.ID, &run.SrcDir, &run.DstDir, &run.Config, &started, &finished,
		&run.Total, &run.Succeeded, &run.Failed, &run.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}

	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("failed to parse start time of run %d: %w", run.ID, err)
	}
	if finished.Valid && finished.String != "" {
		if run.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return Run{}, fmt.Errorf("failed to parse finish time of run %d: %w", run.ID, err)
		}
	}
	return run, nil
}
