package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parkdeck/parkdeck/internal/config"
)

// resolveDataDir returns the effective data directory, preferring the flag,
// then the config file, then ~/.parkdeck.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("storage.data_dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parkdeck"
	}
	return filepath.Join(home, ".parkdeck")
}

// openStore opens the credential store at the effective data directory.
func openStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// durationSetting parses a duration config value, falling back when unset
// or malformed.
func durationSetting(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
