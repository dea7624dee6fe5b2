package server

import (
	"fmt"
	"strings"
)

// LogServerConfig controls the agent and CLI log output. File enables a
// rotated log file next to or instead of the terminal.
type LogServerConfig struct {
	Level      string            `mapstructure:"level"       yaml:"level"`
	TimeFormat string            `mapstructure:"time_format" yaml:"time_format"`
	File       string            `mapstructure:"file"        yaml:"file"`
	NoColor    bool              `mapstructure:"no_color"    yaml:"no_color"`
	JSON       bool              `mapstructure:"json"        yaml:"json"`
	NoTerminal bool              `mapstructure:"no_terminal" yaml:"no_terminal"`
	Rotation   LogRotationConfig `mapstructure:"rotation"    yaml:"rotation"`
}

// LogRotationConfig is passed to lumberjack. Sizes are in megabytes, ages in
// days; zero keeps lumberjack's defaults.
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

func (c LogServerConfig) Validate() error {
	switch strings.ToUpper(strings.TrimSpace(c.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
	default:
		return fmt.Errorf("unsupported log level '%s'", c.Level)
	}

	if c.NoTerminal && c.File == "" {
		return fmt.Errorf("log.file is required when log.no_terminal is set")
	}
	if c.Rotation.MaxSize < 0 || c.Rotation.MaxBackups < 0 || c.Rotation.MaxAge < 0 {
		return fmt.Errorf("log.rotation values must not be negative")
	}
	return nil
}
