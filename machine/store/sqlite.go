package store

import (
	"context"
	"database/sql"
	"fmt"
	"errors"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps runs and bugs in a single-file database, which suits local
// exploration sessions and CI jobs that upload the file as an artifact.
//
// Features:
//   - Single file database (e.g., "./bugs.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Transactional batch writes
//
// Schema:
//   - exploration_runs: one row per run
//   - bug_reports: one row per (run, signature) with the trace as JSON
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// private in-memory database.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./bugs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS exploration_runs (
			run_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			seed INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			bug_count INTEGER NOT NULL,
			distinct_bugs INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create exploration_runs table: %w", err)
	}

	bugsTable := `
		CREATE TABLE IF NOT EXISTS bug_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			signature TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			occurrences INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			seed INTEGER NOT NULL,
			fair INTEGER NOT NULL DEFAULT 0,
			trace TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(run_id, signature),
			FOREIGN KEY (run_id) REFERENCES exploration_runs(run_id) ON DELETE CASCADE
		)
	`
	if _, err := s.db.ExecContext(ctx, bugsTable); err != nil {
		return fmt.Errorf("failed to create bug_reports table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON exploration_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bugs_run ON bug_reports(run_id)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

const sqliteUpsertRun = `
	INSERT INTO exploration_runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		strategy = excluded.strategy,
		seed = excluded.seed,
		iterations = excluded.iterations,
		bug_count = excluded.bug_count,
		distinct_bugs = excluded.distinct_bugs,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at
`

const sqliteUpsertBug = `
	INSERT INTO bug_reports (` + bugColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, signature) DO UPDATE SET
		kind = excluded.kind,
		message = excluded.message,
		iteration = excluded.iteration,
		occurrences = excluded.occurrences,
		strategy = excluded.strategy,
		seed = excluded.seed,
		fair = excluded.fair,
		trace = excluded.trace
`

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveRun upserts a run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertRun, args...); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns a run summary or ErrNotFound.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM exploration_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the newest runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM exploration_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// SaveBug upserts a bug keyed by run and signature. The creation time of an
// existing row is kept.
func (s *SQLiteStore) SaveBug(ctx context.Context, bug BugRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	args, err := bugArgs(bug)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertBug, args...); err != nil {
		return fmt.Errorf("failed to save bug: %w", sqliteUnknownRun(err, bug.RunID))
	}
	return nil
}

// SaveBugs upserts all bugs in one transaction.
func (s *SQLiteStore) SaveBugs(ctx context.Context, bugs []BugRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertBug)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, b := range bugs {
		args, err := bugArgs(b)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to save bug %s: %w", b.Signature, sqliteUnknownRun(err, b.RunID))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadBug returns one bug or ErrNotFound.
func (s *SQLiteStore) LoadBug(ctx context.Context, runID, signature string) (BugRecord, error) {
	if err := s.checkOpen(); err != nil {
		return BugRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bugColumns+` FROM bug_reports WHERE run_id = ? AND signature = ?`, runID, signature)
	return scanBug(row)
}

// ListBugs returns the bugs of a run in insertion order.
func (s *SQLiteStore) ListBugs(ctx context.Context, runID string) ([]BugRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bugColumns+` FROM bug_reports WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BugRecord
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bugs: %w", err)
	}
	return out, nil
}

// Close closes the database. Calling Close multiple times is safe.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// sqliteUnknownRun maps a foreign key violation on bug_reports.run_id to
// ErrUnknownRun.
func sqliteUnknownRun(err error, runID string) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	// Without extended result codes only the primary code is set.
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
		(se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY")) {
		return fmt.Errorf("%w %s", ErrUnknownRun, runID)
	}
	return err
}
