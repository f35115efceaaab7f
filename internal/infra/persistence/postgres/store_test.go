package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"resourcecore/internal/infra/persistence/postgres/testutil"
	"resourcecore/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreAppliesSchema(t *testing.T) {
	_, conn := openStub(t)
	if len(conn.Execs) != len(Dialect.Schema) {
		t.Fatalf("expected %d ddl statements, got %d", len(Dialect.Schema), len(conn.Execs))
	}
	var sawLog bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS resource_state_values") {
			sawLog = true
		}
	}
	if !sawLog {
		t.Fatalf("expected state log table ddl, got %v", conn.Execs)
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore("postgres://example", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	restore()

	db, conn = testutil.NewStubDB()
	conn.FailExec = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "execute ddl") {
		t.Fatalf("expected ddl error, got %v", err)
	}
}

func TestRunInTransactionUsesNumberedPlaceholders(t *testing.T) {
	store, conn := openStub(t)
	var created domain.Resource
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateResource(domain.Resource{ResourceTypeID: 3, Name: "Room 1"})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("expected generated id 1, got %d", created.ID)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one commit, got %d", conn.Commits)
	}
	last := conn.Queries[len(conn.Queries)-1]
	if !strings.Contains(last, "VALUES($1,$2,$3) RETURNING id") {
		t.Fatalf("expected numbered placeholders, got %q", last)
	}
}

func TestExplicitIDSyncsSequence(t *testing.T) {
	store, conn := openStub(t)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateState(domain.State{ID: 7, Name: "Busy"})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	var synced bool
	for _, stmt := range conn.Statements() {
		if strings.Contains(stmt, "setval(pg_get_serial_sequence('resource_states'") {
			synced = true
		}
	}
	if !synced {
		t.Fatalf("expected sequence sync, got %v", conn.Statements())
	}
}

func TestViewResolvesLatestStates(t *testing.T) {
	store, conn := openStub(t)
	conn.Results["resource_state_values"] = [][]driver.Value{{int64(10), int64(2)}, {int64(11), int64(4)}}
	var latest map[int64]int64
	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		var err error
		latest, err = v.LatestStates([]int64{10, 11, 12})
		return err
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
	if latest[10] != 2 || latest[11] != 4 || len(latest) != 2 {
		t.Fatalf("unexpected latest states: %v", latest)
	}
	if conn.Commits != 0 || conn.Rollbacks == 0 {
		t.Fatalf("expected read session to roll back, commits=%d rollbacks=%d", conn.Commits, conn.Rollbacks)
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store, conn := openStub(t)
	wantErr := errors.New("abort")
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AppendStateEvent(domain.StateChangeEvent{ResourceID: 1, StateID: 2}); err != nil {
			return err
		}
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if conn.Commits != 0 || conn.Rollbacks != 1 {
		t.Fatalf("expected rollback only, commits=%d rollbacks=%d", conn.Commits, conn.Rollbacks)
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	got := Dialect.Rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)")
	if got != "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)" {
		t.Fatalf("unexpected rebind: %s", got)
	}
}
