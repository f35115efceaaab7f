package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"resourcecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists resources, screens and the append-only state log in
// normalized tables. Every call opens one database transaction and releases
// it on all exit paths.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine
	nowFn   func() time.Time
}

// New wraps an opened database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Migrate applies the dialect schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the configured SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction applies fn inside a read-write database transaction. Rules
// are evaluated against the uncommitted state; any error or blocking violation
// rolls the transaction back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &transaction{
		view: view{ctx: ctx, q: sqlTx, d: s.dialect},
		now:  s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	res, err := s.engine.Evaluate(ctx, tx.view, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	if err := sqlTx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return res, nil
}

// View runs fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.dialect.ReadOnlyTx})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(view{ctx: ctx, q: sqlTx, d: s.dialect})
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type view struct {
	ctx context.Context
	q   queryer
	d   Dialect
}

func (v view) query(query string, args ...any) (*sql.Rows, error) {
	return v.q.QueryContext(v.ctx, v.d.Rebind(query), args...)
}

func (v view) queryRow(query string, args ...any) *sql.Row {
	return v.q.QueryRowContext(v.ctx, v.d.Rebind(query), args...)
}

func (v view) exec(query string, args ...any) (sql.Result, error) {
	return v.q.ExecContext(v.ctx, v.d.Rebind(query), args...)
}

const resourceColumns = "id, resource_type_id, name, custom_data"

func (v view) selectResources(query string, args ...any) ([]domain.Resource, error) {
	rows, err := v.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select resources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Resource, 0)
	for rows.Next() {
		var r domain.Resource
		if err := rows.Scan(&r.ID, &r.ResourceTypeID, &r.Name, &r.CustomData); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

func (v view) FindResource(id int64) (domain.Resource, bool, error) {
	found, err := v.selectResources("SELECT "+resourceColumns+" FROM resources WHERE id = ?", id)
	if err != nil || len(found) == 0 {
		return domain.Resource{}, false, err
	}
	return found[0], true, nil
}

func (v view) ListResources() ([]domain.Resource, error) {
	return v.selectResources("SELECT " + resourceColumns + " FROM resources ORDER BY id")
}

func (v view) QueryResources(q domain.ResourceQuery) ([]domain.Resource, error) {
	var b strings.Builder
	b.WriteString("SELECT " + resourceColumns + " FROM resources WHERE 1=1")
	var args []any
	if q.ResourceTypeID != 0 {
		b.WriteString(" AND resource_type_id = ?")
		args = append(args, q.ResourceTypeID)
	}
	if q.Search != "" {
		b.WriteString(" AND (" + v.d.ContainsFunc("custom_data", "?") + " OR " + v.d.ContainsFunc(v.d.fold("name"), "?") + ")")
		args = append(args, q.Search, strings.ToLower(q.Search))
	}
	b.WriteString(" ORDER BY id")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return v.selectResources(b.String(), args...)
}

func (v view) ResourcesInState(stateID, resourceTypeID int64) ([]domain.Resource, error) {
	query := `SELECT r.id, r.resource_type_id, r.name, r.custom_data FROM resources r
		JOIN resource_state_values e ON e.resource_id = r.id
		WHERE e.id IN (SELECT MAX(id) FROM resource_state_values GROUP BY resource_id)
		AND e.state_id = ?`
	args := []any{stateID}
	if resourceTypeID != 0 {
		query += " AND r.resource_type_id = ?"
		args = append(args, resourceTypeID)
	}
	return v.selectResources(query+" ORDER BY r.id", args...)
}

func (v view) selectResourceTypes(query string, args ...any) ([]domain.ResourceType, error) {
	rows, err := v.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select resource types: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.ResourceType, 0)
	for rows.Next() {
		var (
			t      domain.ResourceType
			fields string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.EntityName, &fields); err != nil {
			return nil, fmt.Errorf("scan resource type: %w", err)
		}
		if t.Fields, err = decodeFields(fields); err != nil {
			return nil, fmt.Errorf("decode fields of resource type %d: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource types: %w", err)
	}
	return out, nil
}

func (v view) FindResourceType(id int64) (domain.ResourceType, bool, error) {
	found, err := v.selectResourceTypes("SELECT id, name, entity_name, fields FROM resource_types WHERE id = ?", id)
	if err != nil || len(found) == 0 {
		return domain.ResourceType{}, false, err
	}
	return found[0], true, nil
}

func (v view) ListResourceTypes() ([]domain.ResourceType, error) {
	return v.selectResourceTypes("SELECT id, name, entity_name, fields FROM resource_types ORDER BY id")
}

func (v view) ListStates() ([]domain.State, error) {
	rows, err := v.query("SELECT id, name FROM resource_states ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("select states: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.State, 0)
	for rows.Next() {
		var st domain.State
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// screens loads one screen (id != 0) or all screens, with their slots.
func (v view) screens(id int64) ([]domain.Screen, error) {
	where, itemWhere := "", ""
	var args []any
	if id != 0 {
		where, itemWhere = " WHERE id = ?", " WHERE screen_id = ?"
		args = append(args, id)
	}
	rows, err := v.query("SELECT id, name, page_count, item_count_per_page FROM resource_screens"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("select screens: %w", err)
	}
	var out []domain.Screen
	index := make(map[int64]int)
	for rows.Next() {
		var sc domain.Screen
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.PageCount, &sc.ItemCountPerPage); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan screen: %w", err)
		}
		index[sc.ID] = len(out)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate screens: %w", err)
	}
	_ = rows.Close()
	if len(out) == 0 {
		return out, nil
	}

	items, err := v.query("SELECT screen_id, id, resource_id, sort_order, resource_state_id FROM resource_screen_items"+itemWhere+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("select screen items: %w", err)
	}
	defer func() { _ = items.Close() }()
	for items.Next() {
		var (
			screenID int64
			slot     domain.ScreenSlot
		)
		if err := items.Scan(&screenID, &slot.ID, &slot.ResourceID, &slot.Order, &slot.ResourceStateID); err != nil {
			return nil, fmt.Errorf("scan screen item: %w", err)
		}
		if i, ok := index[screenID]; ok {
			out[i].Slots = append(out[i].Slots, slot)
		}
	}
	if err := items.Err(); err != nil {
		return nil, fmt.Errorf("iterate screen items: %w", err)
	}
	return out, nil
}

func (v view) FindScreen(id int64) (domain.Screen, bool, error) {
	found, err := v.screens(id)
	if err != nil || len(found) == 0 {
		return domain.Screen{}, false, err
	}
	return found[0], true, nil
}

func (v view) ListScreens() ([]domain.Screen, error) {
	out, err := v.screens(0)
	if out == nil && err == nil {
		out = []domain.Screen{}
	}
	return out, err
}

func (v view) LatestStates(resourceIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(resourceIDs))
	for _, chunk := range chunkIDs(resourceIDs) {
		query := `SELECT resource_id, state_id FROM resource_state_values
			WHERE id IN (SELECT MAX(id) FROM resource_state_values WHERE resource_id IN (` + placeholders(len(chunk)) + `) GROUP BY resource_id)`
		rows, err := v.query(query, int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("select latest states: %w", err)
		}
		for rows.Next() {
			var resourceID, stateID int64
			if err := rows.Scan(&resourceID, &stateID); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan latest state: %w", err)
			}
			out[resourceID] = stateID
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate latest states: %w", err)
		}
	}
	return out, nil
}

func (v view) selectEvents(query string, args ...any) ([]domain.StateChangeEvent, error) {
	rows, err := v.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select state events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.StateChangeEvent, 0)
	for rows.Next() {
		var (
			e    domain.StateChangeEvent
			date int64
		)
		if err := rows.Scan(&e.ID, &e.ResourceID, &e.StateID, &date); err != nil {
			return nil, fmt.Errorf("scan state event: %w", err)
		}
		e.Date = time.Unix(0, date).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state events: %w", err)
	}
	return out, nil
}

const eventColumns = "id, resource_id, state_id, date"

func (v view) LastStateEvent(resourceID int64) (domain.StateChangeEvent, bool, error) {
	found, err := v.selectEvents("SELECT "+eventColumns+" FROM resource_state_values WHERE resource_id = ? ORDER BY id DESC LIMIT 1", resourceID)
	if err != nil || len(found) == 0 {
		return domain.StateChangeEvent{}, false, err
	}
	return found[0], true, nil
}

func (v view) ListStateEvents(resourceID int64) ([]domain.StateChangeEvent, error) {
	return v.selectEvents("SELECT "+eventColumns+" FROM resource_state_values WHERE resource_id = ? ORDER BY id", resourceID)
}

func (v view) ListAllStateEvents() ([]domain.StateChangeEvent, error) {
	return v.selectEvents("SELECT " + eventColumns + " FROM resource_state_values ORDER BY id")
}

func (v view) CountStateEvents(resourceID int64) (int, error) {
	var n int
	if err := v.queryRow("SELECT COUNT(*) FROM resource_state_values WHERE resource_id = ?", resourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count state events: %w", err)
	}
	return n, nil
}
