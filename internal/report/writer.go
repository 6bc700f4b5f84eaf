package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MeKo-Tech/negafix/internal/batch"
	"github.com/MeKo-Tech/negafix/internal/correct"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of results to buffer before flushing to the database.
	DefaultBatchSize = 100

	timeLayout = time.RFC3339Nano
)

// Writer records batch runs. It implements batch.Sink.
type Writer struct {
	db        *sql.DB
	path      string
	config    string
	batch     []Entry
	batchSize int
	mu        sync.Mutex
}

var _ batch.Sink = (*Writer)(nil)

// New opens or creates the report database at path and initializes the schema.
// cfg is stored with every run started through this writer.
func New(path string, metadata Metadata, cfg correct.Config) (*Writer, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the WAL pragma and transactions on the same handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if metadata.SchemaVersion == 0 {
		metadata.SchemaVersion = SchemaVersion
	}
	if err := insertMetadata(db, metadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to insert metadata: %w", err)
	}

	return &Writer{
		db:        db,
		path:      path,
		config:    string(encoded),
		batch:     make([]Entry, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL PRIMARY KEY,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			src_dir TEXT NOT NULL,
			dst_dir TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			started_at TEXT NOT NULL,
			finished_at TEXT,
			total INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS results (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			gain_red REAL NOT NULL DEFAULT 0,
			gain_green REAL NOT NULL DEFAULT 0,
			gain_blue REAL NOT NULL DEFAULT 0,
			exposure REAL NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS results_index ON results (run_id, name);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func insertMetadata(db *sql.DB, meta Metadata) error {
	stmt, err := db.Prepare("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// BeginRun inserts a new run row and returns its id.
func (w *Writer) BeginRun(ctx context.Context, srcDir, dstDir string, started time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		"INSERT INTO runs (src_dir, dst_dir, config, started_at) VALUES (?, ?, ?, ?)",
		srcDir, dstDir, w.config, started.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// RecordResults buffers file outcomes. When the buffer is full, it is flushed.
func (w *Writer) RecordResults(ctx context.Context, runID int64, results []batch.FileResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range results {
		e := Entry{
			RunID:   runID,
			Name:    r.Name,
			Status:  r.Status(),
			Stage:    r.Stage,
			Elapsed:  r.Elapsed,
			Gains:    r.Gains,
			Exposure: r.Exposure,
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		w.batch = append(w.batch, e)

		if len(w.batch) >= w.batchSize {
			if err := w.flushLocked(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// FinishRun flushes pending results and stores the summary counters.
func (w *Writer) FinishRun(ctx context.Context, runID int64, summary batch.Summary) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}

	finished := time.Now().UTC()
	res, err := w.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, total = ?, succeeded = ?, failed = ?, skipped = ? WHERE id = ?",
		finished.Format(timeLayout), summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return nil
}

// Flush writes any buffered results to the database.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// flushLocked writes buffered results to the database. Must be called with lock held.
func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO results (run_id, name, status, stage, error, elapsed_ms, gain_red, gain_green, gain_blue, exposure) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range w.batch {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Name, e.Status, e.Stage, e.Error, e.Elapsed.Milliseconds(),
			e.Gains.Red, e.Gains.Green, e.Gains.Blue, e.Exposure); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining results and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(context.Background()); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
