package server

import "fmt"

const (
	MetadataTypeSQLite   = "sqlite"
	MetadataTypePostgres = "postgres"
)

// MetadataServerConfig holds metadata store configuration
type MetadataServerConfig struct {
	Type     string                 `mapstructure:"type"     yaml:"type"`
	LogLevel string                 `mapstructure:"log_level" yaml:"log_level"`
	SQLite   MetadataSQLiteConfig   `mapstructure:"sqlite"   yaml:"sqlite"`
	Postgres MetadataPostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MetadataPostgresConfig holds PostgreSQL-specific configuration
type MetadataPostgresConfig struct {
	DSN          string `mapstructure:"dsn"            yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

func (c MetadataServerConfig) Validate() error {
	switch c.Type {
	case MetadataTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("metadata.sqlite.path is required")
		}
	case MetadataTypePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("metadata.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unsupported metadata type '%s'", c.Type)
	}
	return nil
}
