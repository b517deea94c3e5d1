package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// MySQL tests run only against a real server:
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db"
//	go test -run TestMySQL ./machine/store
func getTestDSN(t *testing.T) string {
	t.Helper()
	return os.Getenv("TEST_MYSQL_DSN")
}

func TestMySQLStore(t *testing.T) {
	dsn := getTestDSN(t)
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	testStoreContract(t, func(t *testing.T) Store {
		st, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		cleanupMySQL(t, st)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMySQLStore_Transaction(t *testing.T) {
	dsn := getTestDSN(t)
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	st, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	defer st.Close()
	cleanupMySQL(t, st)

	ctx := context.Background()
	runID := fmt.Sprintf("tx-%d", time.Now().UnixNano())
	if err := st.SaveRun(ctx, RunRecord{RunID: runID, StartedAt: time.Now()}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	err = st.SaveBugs(ctx, []BugRecord{
		{RunID: runID, Signature: "ok", Kind: "assertion"},
		{RunID: runID}, // invalid: rolls back the batch
	})
	if err == nil {
		t.Fatal("expected batch error")
	}
	bugs, err := st.ListBugs(ctx, runID)
	if err != nil {
		t.Fatalf("ListBugs failed: %v", err)
	}
	if len(bugs) != 0 {
		t.Errorf("expected rollback, found %d bugs", len(bugs))
	}

	stats := st.Stats()
	if stats.MaxOpenConnections != 25 {
		t.Errorf("MaxOpenConnections = %d, want 25", stats.MaxOpenConnections)
	}
}

func TestMySQLStore_InvalidDSN(t *testing.T) {
	if getTestDSN(t) == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	if _, err := NewMySQLStore("invalid:dsn:string"); err == nil {
		t.Error("expected error with invalid DSN")
	}
}

func cleanupMySQL(t *testing.T, st *MySQLStore) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"bug_reports", "exploration_runs"} {
		if _, err := st.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("cleanup %s failed: %v", table, err)
		}
	}
}
