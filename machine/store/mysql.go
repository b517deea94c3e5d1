package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It lets a fleet of CI workers record bugs into one shared database so
// distinct signatures can be triaged across runs.
//
// Schema:
//   - exploration_runs: one row per run
//   - bug_reports: one row per (run, signature) with the trace as JSON
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to dsn and creates the schema if needed.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS exploration_runs (
			run_id VARCHAR(64) NOT NULL PRIMARY KEY,
			strategy VARCHAR(255) NOT NULL,
			seed BIGINT NOT NULL,
			iterations INT NOT NULL,
			bug_count INT NOT NULL,
			distinct_bugs INT NOT NULL,
			started_at VARCHAR(40) NOT NULL,
			finished_at VARCHAR(40) NOT NULL,
			INDEX idx_runs_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create exploration_runs table: %w", err)
	}

	bugsTable := `
		CREATE TABLE IF NOT EXISTS bug_reports (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			signature VARCHAR(64) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			message TEXT NOT NULL,
			iteration INT NOT NULL,
			occurrences INT NOT NULL,
			strategy VARCHAR(255) NOT NULL,
			seed BIGINT NOT NULL,
			fair BOOLEAN NOT NULL DEFAULT FALSE,
			trace JSON NOT NULL,
			created_at VARCHAR(40) NOT NULL,
			INDEX idx_bugs_run (run_id),
			UNIQUE KEY unique_run_signature (run_id, signature),
			CONSTRAINT fk_bugs_run FOREIGN KEY (run_id)
				REFERENCES exploration_runs(run_id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, bugsTable); err != nil {
		return fmt.Errorf("failed to create bug_reports table: %w", err)
	}
	return nil
}

const mysqlUpsertRun = `
	INSERT INTO exploration_runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		strategy = VALUES(strategy),
		seed = VALUES(seed),
		iterations = VALUES(iterations),
		bug_count = VALUES(bug_count),
		distinct_bugs = VALUES(distinct_bugs),
		started_at = VALUES(started_at),
		finished_at = VALUES(finished_at)
`

const mysqlUpsertBug = `
	INSERT INTO bug_reports (` + bugColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		kind = VALUES(kind),
		message = VALUES(message),
		iteration = VALUES(iteration),
		occurrences = VALUES(occurrences),
		strategy = VALUES(strategy),
		seed = VALUES(seed),
		fair = VALUES(fair),
		trace = VALUES(trace)
`

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveRun upserts a run summary.
func (m *MySQLStore) SaveRun(ctx context.Context, run RunRecord) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, mysqlUpsertRun, args...); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns a run summary or ErrNotFound.
func (m *MySQLStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := m.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	row := m.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM exploration_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the newest runs first.
func (m *MySQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	query := `SELECT ` + runColumns + ` FROM exploration_runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
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

// SaveBug upserts a bug keyed by run and signature.
func (m *MySQLStore) SaveBug(ctx context.Context, bug BugRecord) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	args, err := bugArgs(bug)
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, mysqlUpsertBug, args...); err != nil {
		return fmt.Errorf("failed to save bug: %w", mysqlUnknownRun(err, bug.RunID))
	}
	return nil
}

// SaveBugs upserts all bugs atomically.
func (m *MySQLStore) SaveBugs(ctx context.Context, bugs []BugRecord) error {
	return m.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, mysqlUpsertBug)
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
				return fmt.Errorf("failed to save bug %s: %w", b.Signature, mysqlUnknownRun(err, b.RunID))
			}
		}
		return nil
	})
}

// LoadBug returns one bug or ErrNotFound.
func (m *MySQLStore) LoadBug(ctx context.Context, runID, signature string) (BugRecord, error) {
	if err := m.checkOpen(); err != nil {
		return BugRecord{}, err
	}
	row := m.db.QueryRowContext(ctx,
		`SELECT `+bugColumns+` FROM bug_reports WHERE run_id = ? AND signature = ?`, runID, signature)
	return scanBug(row)
}

// ListBugs returns the bugs of a run in insertion order.
func (m *MySQLStore) ListBugs(ctx context.Context, runID string) ([]BugRecord, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
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

// Close closes the connection pool. Calling Close multiple times is safe.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}

// WithTransaction runs fn inside a READ COMMITTED transaction, committing
// when fn returns nil and rolling back otherwise.
func (m *MySQLStore) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mysqlUnknownRun maps error 1452 (no referenced row) on bug_reports.run_id
// to ErrUnknownRun.
func mysqlUnknownRun(err error, runID string) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1452 {
		return fmt.Errorf("%w %s", ErrUnknownRun, runID)
	}
	return err
}
