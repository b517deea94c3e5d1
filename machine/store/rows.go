package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Both SQL stores keep timestamps as fixed-width UTC text and traces as JSON
// arrays so the two schemas scan identically. Fixed width keeps ORDER BY on
// the text column chronological.

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

const runColumns = `run_id, strategy, seed, iterations, bug_count, distinct_bugs, started_at, finished_at`

const bugColumns = `run_id, signature, kind, message, iteration, occurrences, strategy, seed, fair, trace, created_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		r                 RunRecord
		started, finished string
	)
	err := row.Scan(&r.RunID, &r.Strategy, &r.Seed, &r.Iterations, &r.BugCount, &r.DistinctBugs, &started, &finished)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to scan run: %w", err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return RunRecord{}, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return RunRecord{}, err
	}
	return r, nil
}

func scanBug(row rowScanner) (BugRecord, error) {
	var (
		b       BugRecord
		trace   []byte
		created string
	)
	err := row.Scan(&b.RunID, &b.Signature, &b.Kind, &b.Message, &b.Iteration, &b.Occurrences, &b.Strategy, &b.Seed, &b.Fair, &trace, &created)
	if err == sql.ErrNoRows {
		return BugRecord{}, ErrNotFound
	}
	if err != nil {
		return BugRecord{}, fmt.Errorf("failed to scan bug: %w", err)
	}
	if err := json.Unmarshal(trace, &b.Trace); err != nil {
		return BugRecord{}, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return BugRecord{}, err
	}
	return b, nil
}

func bugArgs(b BugRecord) ([]any, error) {
	if b.RunID == "" || b.Signature == "" {
		return nil, fmt.Errorf("bug record requires run ID and signature")
	}
	trace := b.Trace
	if trace == nil {
		trace = []string{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace: %w", err)
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []any{
		b.RunID, b.Signature, b.Kind, b.Message, b.Iteration, b.Occurrences,
		b.Strategy, b.Seed, b.Fair, string(traceJSON), formatTime(created),
	}, nil
}

func runArgs(r RunRecord) ([]any, error) {
	if r.RunID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	return []any{
		r.RunID, r.Strategy, r.Seed, r.Iterations, r.BugCount, r.DistinctBugs,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	}, nil
}
