package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/config"
)

// Open creates the Storage selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStorage(cfg.DatabasePath)
	case config.DriverPostgres:
		return NewPostgresStorage(ctx, PostgresConfig{
			URL:          cfg.DatabaseURL,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		}, logger)
	case config.DriverMemory:
		return OpenMemoryStorage(cfg.SnapshotPath)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// Paths returns the on-disk locations used by cfg, for disk usage reporting.
func Paths(cfg config.StorageConfig) []string {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return []string{cfg.DatabasePath, cfg.DatabasePath + "-wal", cfg.DatabasePath + "-shm"}
	case config.DriverMemory:
		return []string{cfg.SnapshotPath}
	default:
		return nil
	}
}
