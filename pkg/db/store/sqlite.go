package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements CatalogStore using SQLite
type SQLiteStore struct {
	gormStore
	path string
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path     string
	LogLevel logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed catalog store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := openGorm(sqlite.Open(cfg.Path), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		gormStore: gormStore{db: db},
		path:      cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Init connects and applies pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to sqlite catalog '%s': %w", s.path, err)
	}
	return s.Migrate(ctx)
}
