package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testStoreContract exercises behavior every Store implementation shares.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("run round trip", func(t *testing.T) {
		st := newStore(t)
		run := RunRecord{
			RunID: "run-a", Strategy: "PCT[priority change points '2' [3, 9], seed '7']", Seed: 7,
			Iterations: 100, BugCount: 3, DistinctBugs: 2,
			StartedAt: base, FinishedAt: base.Add(1500 * time.Millisecond),
		}
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		got, err := st.LoadRun(ctx, "run-a")
		if err != nil {
			t.Fatalf("LoadRun failed: %v", err)
		}
		if got.Strategy != run.Strategy || got.Seed != 7 || got.BugCount != 3 || got.DistinctBugs != 2 {
			t.Errorf("unexpected run: %+v", got)
		}
		if !got.StartedAt.Equal(run.StartedAt) || !got.FinishedAt.Equal(run.FinishedAt) {
			t.Errorf("timestamps changed: %v %v", got.StartedAt, got.FinishedAt)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.LoadRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list runs newest first", func(t *testing.T) {
		st := newStore(t)
		for i, id := range []string{"r1", "r2", "r3"} {
			run := RunRecord{RunID: id, Strategy: "Random", StartedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := st.SaveRun(ctx, run); err != nil {
				t.Fatalf("SaveRun failed: %v", err)
			}
		}
		runs, err := st.ListRuns(ctx, 2)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 || runs[0].RunID != "r3" || runs[1].RunID != "r2" {
			t.Errorf("unexpected order: %+v", runs)
		}
		all, err := st.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 runs, got %d", len(all))
		}
	})

	t.Run("bug upsert keeps one row per signature", func(t *testing.T) {
		st := newStore(t)
		if err := st.SaveRun(ctx, RunRecord{RunID: "run-b", Strategy: "DFS", StartedAt: base}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		bug := BugRecord{
			RunID: "run-b", Signature: "0a1b2c", Kind: "assertion",
			Message: "Seen 2 Pings", Iteration: 4, Occurrences: 1,
			Strategy: "Random[seed '4']", Fair: true, Trace: []string{"S0", "S1", "B1"}, CreatedAt: base,
		}
		if err := st.SaveBug(ctx, bug); err != nil {
			t.Fatalf("SaveBug failed: %v", err)
		}
		bug.Occurrences = 5
		if err := st.SaveBug(ctx, bug); err != nil {
			t.Fatalf("SaveBug failed: %v", err)
		}
		other := bug
		other.Signature = "ffeedd"
		other.Trace = nil
		if err := st.SaveBug(ctx, other); err != nil {
			t.Fatalf("SaveBug failed: %v", err)
		}

		bugs, err := st.ListBugs(ctx, "run-b")
		if err != nil {
			t.Fatalf("ListBugs failed: %v", err)
		}
		if len(bugs) != 2 {
			t.Fatalf("expected 2 bugs, got %d", len(bugs))
		}
		if bugs[0].Signature != "0a1b2c" || bugs[0].Occurrences != 5 {
			t.Errorf("unexpected first bug: %+v", bugs[0])
		}

		got, err := st.LoadBug(ctx, "run-b", "0a1b2c")
		if err != nil {
			t.Fatalf("LoadBug failed: %v", err)
		}
		if len(got.Trace) != 3 || got.Trace[2] != "B1" {
			t.Errorf("trace not preserved: %v", got.Trace)
		}
		if !got.Fair || got.Strategy != "Random[seed '4']" {
			t.Errorf("strategy not preserved: %q fair=%v", got.Strategy, got.Fair)
		}
		if _, err := st.LoadBug(ctx, "run-b", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("batch save", func(t *testing.T) {
		st := newStore(t)
		bs, ok := st.(BatchStore)
		if !ok {
			t.Skip("store does not support batches")
		}
		if err := st.SaveRun(ctx, RunRecord{RunID: "run-c", StartedAt: base}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		err := bs.SaveBugs(ctx, []BugRecord{
			{RunID: "run-c", Signature: "a", Kind: "liveness", Trace: []string{"S0"}},
			{RunID: "run-c", Signature: "b", Kind: "livelock", Trace: []string{"S1"}},
		})
		if err != nil {
			t.Fatalf("SaveBugs failed: %v", err)
		}
		bugs, err := st.ListBugs(ctx, "run-c")
		if err != nil {
			t.Fatalf("ListBugs failed: %v", err)
		}
		if len(bugs) != 2 {
			t.Errorf("expected 2 bugs, got %d", len(bugs))
		}
	})

	t.Run("bug requires its run", func(t *testing.T) {
		st := newStore(t)
		err := st.SaveBug(ctx, BugRecord{RunID: "ghost", Signature: "a", Kind: "assertion"})
		if !errors.Is(err, ErrUnknownRun) {
			t.Fatalf("expected ErrUnknownRun, got %v", err)
		}

		bs, ok := st.(BatchStore)
		if !ok {
			return
		}
		if err := st.SaveRun(ctx, RunRecord{RunID: "real", StartedAt: base}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		err = bs.SaveBugs(ctx, []BugRecord{
			{RunID: "real", Signature: "a", Kind: "assertion"},
			{RunID: "ghost", Signature: "b", Kind: "assertion"},
		})
		if !errors.Is(err, ErrUnknownRun) {
			t.Fatalf("expected ErrUnknownRun from batch, got %v", err)
		}
		bugs, err := st.ListBugs(ctx, "real")
		if err != nil {
			t.Fatalf("ListBugs failed: %v", err)
		}
		if len(bugs) != 0 {
			t.Errorf("a failed batch saved %d bugs", len(bugs))
		}
	})

	t.Run("invalid records", func(t *testing.T) {
		st := newStore(t)
		if err := st.SaveRun(ctx, RunRecord{}); err == nil {
			t.Error("expected error for empty run ID")
		}
		if err := st.SaveBug(ctx, BugRecord{RunID: "x"}); err == nil {
			t.Error("expected error for empty signature")
		}
	})

	t.Run("closed store", func(t *testing.T) {
		st := newStore(t)
		if err := st.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
		if _, err := st.LoadRun(ctx, "run-a"); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := st.SaveBug(ctx, BugRecord{RunID: "r", Signature: "s"}); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}
