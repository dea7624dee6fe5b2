package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	configDirs = []string{".", "./config", "/etc/lakesync", "$HOME/.lakesync"}
	envFiles   = []string{".env", ".env.local"}
)

// initConfig loads .env files next to the config file, then the config
// itself. Environment variables override both, LAKESYNC_METADATA_TYPE
// maps to metadata.type.
func initConfig(path string) error {
	dirs := configDirs
	if path != "" {
		viper.SetConfigFile(path)
		dirs = []string{filepath.Dir(path)}
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range configDirs {
			viper.AddConfigPath(dir)
		}
	}

	loadEnvFiles(append([]string{"."}, dirs...))

	viper.SetEnvPrefix("LAKESYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// loadEnvFiles never overrides variables that are already set, so the
// first file to define a variable wins.
func loadEnvFiles(dirs []string) {
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		dir = os.ExpandEnv(dir)
		for _, name := range envFiles {
			path := filepath.Join(dir, name)
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			// Missing files are expected.
			_ = godotenv.Load(path)
		}
	}
}
