package core

import (
	"fmt"
	"os"

	"resourcecore/internal/infra/persistence/memory"
	"resourcecore/internal/infra/persistence/postgres"
	"resourcecore/internal/infra/persistence/sqlite"
	"resourcecore/pkg/domain"
)

// StorageDriver names a persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

type (
	Transaction      = domain.Transaction
	TransactionView  = domain.TransactionView
	PersistentStore  = domain.PersistentStore
	RulesEngine      = domain.RulesEngine
	Result           = domain.Result
	Resource         = domain.Resource
	ResourceType     = domain.ResourceType
	Screen           = domain.Screen
	ScreenSlot       = domain.ScreenSlot
	State            = domain.State
	StateChangeEvent = domain.StateChangeEvent
)

// NewRulesEngine returns an engine with no rules registered.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// StorageConfig selects and parameterizes a persistence backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// StorageConfigFromEnv reads the storage settings:
//
//	RESOURCECORE_STORAGE_DRIVER  memory|sqlite|postgres, sqlite when unset
//	RESOURCECORE_SQLITE_PATH     database file, ./resourcecore.db when unset
//	RESOURCECORE_POSTGRES_DSN    connection string for postgres
func StorageConfigFromEnv() StorageConfig {
	cfg := StorageConfig{
		Driver:      StorageDriver(os.Getenv("RESOURCECORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("RESOURCECORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("RESOURCECORE_POSTGRES_DSN"),
	}
	if cfg.Driver == "" {
		cfg.Driver = StorageSQLite
	}
	return cfg
}

// Open constructs the configured backend. SQL backends hold a connection
// pool and implement io.Closer.
func (c StorageConfig) Open(engine *RulesEngine) (PersistentStore, error) {
	switch c.Driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(c.SQLitePath, engine)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(c.PostgresDSN, engine)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

// OpenPersistentStore opens the backend described by the environment.
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	return StorageConfigFromEnv().Open(engine)
}
