// Package store keeps the run history of promptrun in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"promptrun/internal/driver"
	"promptrun/internal/logging"
	"promptrun/internal/targets"
)

// ErrRunNotFound means no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is a stored run with its invocation counts.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running or if the process died
	Workspace   string
	TargetList  string
	Variant     string
	Targets     int
	Interrupted bool

	Invocations int
	NotClean    int
}

// HistoryStore records driver runs. It implements driver.Recorder.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

var _ driver.Recorder = (*HistoryStore)(nil)

// NewHistoryStore opens (creating if needed) the database at path.
func NewHistoryStore(path string) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewHistoryStore")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &HistoryStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("History store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *HistoryStore) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		workspace TEXT NOT NULL,
		target_list TEXT,
		variant TEXT,
		targets INTEGER DEFAULT 0,
		interrupted INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	invocationsTable := `
	CREATE TABLE IF NOT EXISTS invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		function TEXT NOT NULL,
		loop TEXT NOT NULL,
		request_id TEXT DEFAULT '',
		exit_code INTEGER NOT NULL,
		killed INTEGER DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		error TEXT DEFAULT '',
		archive_path TEXT DEFAULT '',
		UNIQUE(run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_run ON invocations(run_id);
	`

	for _, table := range []string{runsTable, invocationsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	logging.Store("Closing history store %s", s.dbPath)
	return s.db.Close()
}

// StartRun inserts a run row.
func (s *HistoryStore) StartRun(ctx context.Context, run driver.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, workspace, target_list, variant, targets) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.Workspace, run.TargetList, run.Variant, run.Targets)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	logging.StoreDebug("Recorded run start %s (%d targets)", run.ID, run.Targets)
	return nil
}

// RecordInvocation inserts one build outcome.
func (s *HistoryStore) RecordInvocation(ctx context.Context, runID string, inv driver.Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (run_id, seq, function, loop, request_id, exit_code, killed, duration_ms, error, archive_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, inv.Seq, inv.Pair.Function, inv.Pair.Loop, inv.RequestID, inv.ExitCode,
		boolInt(inv.Killed), inv.Duration.Milliseconds(), inv.Error, inv.ArchivePath)
	if err != nil {
		return fmt.Errorf("failed to record invocation %d of run %s: %w", inv.Seq, runID, err)
	}
	return nil
}

// FinishRun stamps the end time of a run.
func (s *HistoryStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, interrupted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, interrupted = ? WHERE id = ?`,
		finishedAt.UnixMilli(), boolInt(interrupted), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	logging.Get(logging.CategoryStore).StructuredLog("info", "run finished", map[string]interface{}{
		"run_id":      runID,
		"finished_at": finishedAt.UnixMilli(),
		"interrupted": interrupted,
	})
	return nil
}

const runColumns = `
	r.id, r.started_at, r.finished_at, r.workspace, r.target_list, r.variant, r.targets, r.interrupted,
	(SELECT COUNT(*) FROM invocations i WHERE i.run_id = r.id),
	(SELECT COUNT(*) FROM invocations i WHERE i.run_id = r.id AND (i.exit_code != 0 OR i.killed != 0 OR i.error != ''))`

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *HistoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose ID equals or starts with id.
func (s *HistoryStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return nil, ErrRunNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r WHERE substr(r.id, 1, length(?)) = ? ORDER BY (r.id = ?) DESC LIMIT 2`, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	var found []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%q: %w", id, ErrRunNotFound)
	case 1:
		return &found[0], nil
	default:
		for i := range found {
			if found[i].ID == id {
				return &found[i], nil
			}
		}
		return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
	}
}

// Invocations returns a run's builds in sequence order.
func (s *HistoryStore) Invocations(ctx context.Context, runID string) ([]driver.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, function, loop, request_id, exit_code, killed, duration_ms, error, archive_path
		 FROM invocations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []driver.Invocation
	for rows.Next() {
		var inv driver.Invocation
		var killed int
		var durationMs int64
		if err := rows.Scan(&inv.Seq, &inv.Pair.Function, &inv.Pair.Loop, &inv.RequestID, &inv.ExitCode,
			&killed, &durationMs, &inv.Error, &inv.ArchivePath); err != nil {
			return nil, err
		}
		inv.Killed = killed != 0
		inv.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Targets returns the pairs a run built, in order.
func (s *HistoryStore) Targets(ctx context.Context, runID string) (targets.List, error) {
	invs, err := s.Invocations(ctx, runID)
	if err != nil {
		return nil, err
	}
	list := make(targets.List, len(invs))
	for i, inv := range invs {
		list[i] = inv.Pair
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var started int64
	var finished sql.NullInt64
	var targetList, variant sql.NullString
	var interrupted int
	if err := row.Scan(&rec.ID, &started, &finished, &rec.Workspace, &targetList, &variant,
		&rec.Targets, &interrupted, &rec.Invocations, &rec.NotClean); err != nil {
		return rec, fmt.Errorf("failed to scan run: %w", err)
	}
	rec.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		rec.FinishedAt = time.UnixMilli(finished.Int64)
	}
	rec.TargetList = targetList.String
	rec.Variant = variant.String
	rec.Interrupted = interrupted != 0
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
