// Package store persists exploration results: one RunRecord per run and one
// BugRecord per distinct bug, including the serialized trace that replays it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run or bug does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownRun is returned when a bug is saved for a run that was never
// saved. Runs are saved before their bugs.
var ErrUnknownRun = errors.New("unknown run")

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Store provides persistence for exploration runs and bug reports.
//
// Implementations:
//   - MemStore: in-memory, for tests and short-lived tools
//   - SQLiteStore: single-file database with zero setup
//   - MySQLStore: shared database for CI fleets
type Store interface {
	// SaveRun inserts or replaces the summary of a run.
	SaveRun(ctx context.Context, run RunRecord) error

	// LoadRun returns the summary of runID or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord, error)

	// ListRuns returns the most recent runs first, at most limit of them.
	// limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// SaveBug inserts or replaces the bug with the same run and signature.
	// The run must already be saved, or ErrUnknownRun is returned.
	SaveBug(ctx context.Context, bug BugRecord) error

	// LoadBug returns one bug of a run or ErrNotFound.
	LoadBug(ctx context.Context, runID, signature string) (BugRecord, error)

	// ListBugs returns the bugs of a run in the order they were first found.
	ListBugs(ctx context.Context, runID string) ([]BugRecord, error)

	// Close releases resources. Calling Close twice is a no-op.
	Close() error
}

// BatchStore is implemented by stores that can save several bugs
// atomically.
type BatchStore interface {
	SaveBugs(ctx context.Context, bugs []BugRecord) error
}

// RunRecord summarizes one exploration run.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Strategy     string    `json:"strategy"`
	Seed         int64     `json:"seed"`
	Iterations   int       `json:"iterations"`
	BugCount     int       `json:"bug_count"`
	DistinctBugs int       `json:"distinct_bugs"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// BugRecord is one distinct bug together with a reproducing trace.
type BugRecord struct {
	RunID     string `json:"run_id"`
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Iteration int    `json:"iteration"`
	// Occurrences counts the buggy iterations sharing the signature.
	Occurrences int    `json:"occurrences"`
	Strategy    string `json:"strategy"`
	Seed        int64  `json:"seed"`
	// Fair records whether the strategy that found the bug was fair, which
	// replay needs to apply the same liveness checks.
	Fair bool `json:"fair"`
	// Trace holds the trace tokens, one decision per element.
	Trace     []string  `json:"trace"`
	CreatedAt time.Time `json:"created_at"`
}
