package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig      `mapstructure:"log"      yaml:"log"`
	Metadata MetadataServerConfig `mapstructure:"metadata" yaml:"metadata"`
	Storage  StorageServerConfig  `mapstructure:"storage"  yaml:"storage"`
	Rebuild  RebuildServerConfig  `mapstructure:"rebuild"  yaml:"rebuild"`
	Refresh  RefreshServerConfig  `mapstructure:"refresh"  yaml:"refresh"`
	Lock     LockServerConfig     `mapstructure:"lock"     yaml:"lock"`
	HTTP     HTTPServerConfig     `mapstructure:"http"     yaml:"http"`
	Admin    AdminServerConfig    `mapstructure:"admin"    yaml:"admin"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (cfg *BaseServerConfig) Validate() error {
	if err := cfg.Log.Validate(); err != nil {
		return err
	}
	if err := cfg.Metadata.Validate(); err != nil {
		return err
	}
	if cfg.Rebuild.Attempts < 1 {
		return fmt.Errorf("rebuild.attempts must be at least 1, got %d", cfg.Rebuild.Attempts)
	}
	if err := cfg.Lock.Validate(); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses value and falls back to def when it is empty or invalid.
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return def
	}
	return d
}
