// Package postgres provides a Postgres-backed resource event store using the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"resourcecore/internal/infra/persistence/sqlstore"
	"resourcecore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/resourcecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect describes Postgres for the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:       "postgres",
	Numbered:   true,
	ReadOnlyTx: true,
	ContainsFunc: func(haystack, needle string) string {
		return "strpos(" + haystack + ", " + needle + ") > 0"
	},
	SyncSequence: func(table string) string {
		return "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), (SELECT COALESCE(MAX(id), 1) FROM " + table + "))"
	},
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS resource_types (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			entity_name TEXT NOT NULL DEFAULT '',
			fields TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS resources (
			id BIGSERIAL PRIMARY KEY,
			resource_type_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			custom_data TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS resources_type_idx ON resources(resource_type_id)`,
		`CREATE TABLE IF NOT EXISTS resource_states (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resource_state_values (
			id BIGSERIAL PRIMARY KEY,
			resource_id BIGINT NOT NULL,
			state_id BIGINT NOT NULL,
			date BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS resource_state_values_resource_idx ON resource_state_values(resource_id, id)`,
		`CREATE TABLE IF NOT EXISTS resource_screens (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 0,
			item_count_per_page INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS resource_screen_items (
			id BIGSERIAL PRIMARY KEY,
			screen_id BIGINT NOT NULL,
			resource_id BIGINT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			resource_state_id BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS resource_screen_items_screen_idx ON resource_screen_items(screen_id)`,
	},
}

// Store is the Postgres persistent store.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), verifies connectivity and applies the schema.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqlstore.New(db, Dialect, engine)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
