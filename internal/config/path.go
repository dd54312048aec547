package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cinebot/attend/internal/appinfo"
)

// dataDir returns the application data directory without creating it.
// ATTEND_DATA_DIR overrides the platform default for containerized and
// test deployments.
func dataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appinfo.DirName), nil
}

// EnsureDataDir returns the application data directory, creating it if needed.
func EnsureDataDir() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func dataPath(filename string) (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	return dataPath(appinfo.ConfigFileName)
}

// SecretsPath returns the path to the secrets file.
func SecretsPath() (string, error) {
	return dataPath(appinfo.SecretsFileName)
}

// DatabasePath returns the path to the SQLite database.
func DatabasePath() (string, error) {
	return dataPath(appinfo.DatabaseFileName)
}
