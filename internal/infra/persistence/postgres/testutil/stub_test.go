package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
)

func TestStubDBRecordsAndAnswersQueries(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM resources WHERE id = $1", nil); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if len(conn.Execs) != 1 {
		t.Fatalf("expected exec recorded, got %v", conn.Execs)
	}

	conn.Results["resource_states"] = [][]driver.Value{{int64(1), "Free"}}
	rows, err := conn.QueryContext(ctx, "SELECT id, name FROM resource_states ORDER BY id", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(1) || dest[1] != "Free" {
		t.Fatalf("unexpected row values: %v", dest)
	}

	rows, err = conn.QueryContext(ctx, "INSERT INTO resource_states(name) VALUES($1) RETURNING id", nil)
	if err != nil {
		t.Fatalf("insert returning: %v", err)
	}
	if err := rows.Next(dest[:1]); err != nil || dest[0] != int64(1) {
		t.Fatalf("expected generated id 1, got %v (%v)", dest[0], err)
	}

	conn.FailPing = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestStubDBCountsTransactions(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only BeginTx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if conn.Commits != 1 || conn.Rollbacks != 1 {
		t.Fatalf("expected one commit and one rollback, got %d/%d", conn.Commits, conn.Rollbacks)
	}
	if _, err := db.QueryContext(ctx, "UPDATE resources SET name = 'x'"); err == nil {
		t.Fatalf("expected unanswerable query to fail")
	}
}
