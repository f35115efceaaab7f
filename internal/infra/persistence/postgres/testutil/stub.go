// Package testutil provides a recording stub database for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// StubConn records the statements issued by the postgres store. SELECT
// queries answer from Results keyed by the first table after FROM; INSERT ...
// RETURNING id queries answer with increasing ids.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Queries   []string
	Results   map[string][][]driver.Value
	NextID    int64
	FailPing  bool
	FailExec  bool
	Commits   int
	Rollbacks int
}

// NewStubDB returns a sql.DB whose only connection is the returned stub.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Results: make(map[string][][]driver.Value)}
	return sql.OpenDB(stubConnector{conn}), conn
}

type stubConnector struct{ conn *StubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return c }
func (c stubConnector) Open(string) (driver.Conn, error)             { return c.conn, nil }

var errUnsupported = errors.New("stub: prepared statements unsupported")

func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, errUnsupported }
func (c *StubConn) Close() error                        { return nil }
func (c *StubConn) Begin() (driver.Tx, error)           { return stubTx{c}, nil }

// BeginTx is required for the read-only View sessions.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return stubTx{c}, nil
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("ping fail")
	}
	return nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("exec fail")
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, query)
	lower := strings.ToLower(strings.TrimSpace(query))
	if strings.HasPrefix(lower, "insert") && strings.Contains(lower, "returning") {
		c.NextID++
		return &stubRows{cols: []string{"id"}, rows: [][]driver.Value{{c.NextID}}}, nil
	}
	cols, rest, ok := strings.Cut(strings.TrimPrefix(lower, "select "), " from ")
	fields := strings.Fields(rest)
	if !ok || !strings.HasPrefix(lower, "select ") || len(fields) == 0 {
		return nil, fmt.Errorf("stub: cannot answer %q", query)
	}
	names := strings.Split(cols, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return &stubRows{cols: names, rows: c.Results[fields[0]]}, nil
}

// Statements returns every recorded statement, execs first.
func (c *StubConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(append([]string(nil), c.Execs...), c.Queries...)
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	t.conn.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	next int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
