package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// MemStore is thread-safe. Its contents can be snapshotted with
// json.Marshal and restored with json.Unmarshal, which is how short-lived
// tools keep results between invocations without a database.
type MemStore struct {
	mu     sync.RWMutex
	runs   map[string]RunRecord
	bugs   map[string][]BugRecord // runID -> bugs in insertion order
	closed bool
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs: make(map[string]RunRecord),
		bugs: make(map[string][]BugRecord),
	}
}

// SaveRun stores a copy of run.
func (m *MemStore) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if run.RunID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	m.runs[run.RunID] = run
	return nil
}

// LoadRun returns the run or ErrNotFound.
func (m *MemStore) LoadRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return RunRecord{}, ErrClosed
	}
	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (m *MemStore) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveBug inserts or replaces a bug keyed by run and signature.
func (m *MemStore) SaveBug(_ context.Context, bug BugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.saveBugLocked(bug)
}

// SaveBugs saves all bugs under one lock. Nothing is saved when any bug is
// invalid.
func (m *MemStore) SaveBugs(_ context.Context, bugs []BugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, b := range bugs {
		if _, ok := m.runs[b.RunID]; !ok && b.RunID != "" {
			return fmt.Errorf("failed to save bug %s: %w %s", b.Signature, ErrUnknownRun, b.RunID)
		}
	}
	for _, b := range bugs {
		if err := m.saveBugLocked(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) saveBugLocked(bug BugRecord) error {
	if bug.RunID == "" || bug.Signature == "" {
		return fmt.Errorf("bug record requires run ID and signature")
	}
	if _, ok := m.runs[bug.RunID]; !ok {
		return fmt.Errorf("failed to save bug %s: %w %s", bug.Signature, ErrUnknownRun, bug.RunID)
	}
	bug.Trace = append([]string(nil), bug.Trace...)
	list := m.bugs[bug.RunID]
	for i, b := range list {
		if b.Signature == bug.Signature {
			list[i] = bug
			return nil
		}
	}
	m.bugs[bug.RunID] = append(list, bug)
	return nil
}

// LoadBug returns the bug or ErrNotFound.
func (m *MemStore) LoadBug(_ context.Context, runID, signature string) (BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return BugRecord{}, ErrClosed
	}
	for _, b := range m.bugs[runID] {
		if b.Signature == signature {
			b.Trace = append([]string(nil), b.Trace...)
			return b, nil
		}
	}
	return BugRecord{}, ErrNotFound
}

// ListBugs returns the bugs of a run in insertion order.
func (m *MemStore) ListBugs(_ context.Context, runID string) ([]BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]BugRecord, len(m.bugs[runID]))
	copy(out, m.bugs[runID])
	return out, nil
}

// Close marks the store closed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memSnapshot struct {
	Runs []RunRecord `json:"runs"`
	Bugs []BugRecord `json:"bugs"`
}

// MarshalJSON serializes every run and bug.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snap memSnapshot
	runIDs := make([]string, 0, len(m.runs))
	for id := range m.runs {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	for _, id := range runIDs {
		snap.Runs = append(snap.Runs, m.runs[id])
	}
	bugRuns := make([]string, 0, len(m.bugs))
	for id := range m.bugs {
		bugRuns = append(bugRuns, id)
	}
	sort.Strings(bugRuns)
	for _, id := range bugRuns {
		snap.Bugs = append(snap.Bugs, m.bugs[id]...)
	}
	return json.Marshal(snap)
}

// UnmarshalJSON replaces the contents of the store with a snapshot.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var snap memSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal store snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = make(map[string]RunRecord, len(snap.Runs))
	m.bugs = make(map[string][]BugRecord)
	for _, r := range snap.Runs {
		m.runs[r.RunID] = r
	}
	for _, b := range snap.Bugs {
		if err := m.saveBugLocked(b); err != nil {
			return err
		}
	}
	return nil
}
