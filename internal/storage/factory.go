package storage

import (
	"fmt"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/config"
)

// Factory builds a storage adapter from application configuration.
// Adapters are registered here rather than imported by callers so the
// rest of the application only sees the Storage interface.
type Factory struct {
	newPostgres func(cfg *config.Config) (Storage, error)
	newSQLite   func(cfg *config.Config) (Storage, error)
}

// NewFactory returns a factory with the given adapter constructors.
// The constructors live in their own packages to keep driver imports
// out of this one; main wires them in.
func NewFactory(newPostgres, newSQLite func(cfg *config.Config) (Storage, error)) *Factory {
	return &Factory{
		newPostgres: newPostgres,
		newSQLite:   newSQLite,
	}
}

// Create builds the storage adapter selected by cfg.DatabaseType.
func (f *Factory) Create(cfg *config.Config) (Storage, error) {
	switch cfg.DatabaseType {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		if f.newSQLite == nil {
			return nil, errors.ConfigError("sqlite storage is not registered")
		}
		return f.newSQLite(cfg)
	case "postgres", "postgresql":
		if f.newPostgres == nil {
			return nil, errors.ConfigError("postgres storage is not registered")
		}
		return f.newPostgres(cfg)
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}
