package database

import (
	"fmt"
	"os"
	"path/filepath"

	"hyper-go/internal/config"
	"hyper-go/internal/hyper"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// In-memory databases are migrated immediately since nothing else could.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (hyper.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"), nil, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", nil, nil)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
