package database

import (
	"fmt"
	"os"
	"path/filepath"

	"chatvault/internal/arc"
	"chatvault/internal/config"
)

// DatabaseFile is the run-history database name inside data_dir.
const DatabaseFile = "chatvault.db"

// NewRunStoreFromConfig creates a RunStore implementation based on the database config type.
func NewRunStoreFromConfig(cfg config.DatabaseConfig, clock arc.Clock) (*SQLiteRunStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteRunStore(filepath.Join(cfg.DataDir, DatabaseFile), clock)
	case "memory":
		return NewSQLiteRunStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
