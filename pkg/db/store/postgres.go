package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"
)

// PostgresStore implements CatalogStore using PostgreSQL
type PostgresStore struct {
	gormStore
	cfg PostgresConfig
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     logger.LogLevel
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store. The
// connection is opened lazily by gorm and verified in Connect.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := openGorm(postgres.Open(cfg.DSN), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	return &PostgresStore{
		gormStore: gormStore{db: db},
		cfg:       cfg,
	}, nil
}

func (s *PostgresStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if s.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if s.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return sqlDB.PingContext(ctx)
}

// Init connects and applies pending migrations.
func (s *PostgresStore) Init(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to postgres catalog: %w", err)
	}
	return s.Migrate(ctx)
}
