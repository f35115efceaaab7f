// Package sqlite provides the SQLite-backed resource event store using the
// pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"

	"resourcecore/internal/infra/persistence/sqlstore"
	"resourcecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "resourcecore.db"

// foldFunc is registered with the driver because SQLite's LOWER only folds
// ASCII letters.
const foldFunc = "go_lower"

func init() {
	if err := msqlite.RegisterDeterministicScalarFunction(foldFunc, 1, goLower); err != nil {
		panic(fmt.Sprintf("register %s: %v", foldFunc, err))
	}
}

func goLower(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported argument %T", foldFunc, v)
	}
}

// Dialect describes SQLite for the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	ContainsFunc: func(haystack, needle string) string {
		return "instr(" + haystack + ", " + needle + ") > 0"
	},
	FoldFunc: func(expr string) string {
		return foldFunc + "(" + expr + ")"
	},
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS resource_types (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			entity_name TEXT NOT NULL DEFAULT '',
			fields TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS resources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_type_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			custom_data TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS resources_type_idx ON resources(resource_type_id)`,
		`CREATE TABLE IF NOT EXISTS resource_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resource_state_values (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id INTEGER NOT NULL,
			state_id INTEGER NOT NULL,
			date INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS resource_state_values_resource_idx ON resource_state_values(resource_id, id)`,
		`CREATE TABLE IF NOT EXISTS resource_screens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 0,
			item_count_per_page INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS resource_screen_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			screen_id INTEGER NOT NULL,
			resource_id INTEGER NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			resource_state_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS resource_screen_items_screen_idx ON resource_screen_items(screen_id)`,
	},
}

// Store is the SQLite persistent store.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path and applies the schema.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY between sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	store := sqlstore.New(db, Dialect, engine)
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
