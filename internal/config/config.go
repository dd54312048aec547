// Package config provides configuration management for the attendance
// engine: a YAML config file with per-guild attendance policy, environment
// variable overrides, and a JSON secrets file.
package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort                = "ATTEND_PORT"
	EnvSnapshotIntervalSec = "ATTEND_SNAPSHOT_INTERVAL_SEC"
	EnvDefaultMode         = "ATTEND_DEFAULT_MODE"
	EnvDefaultThresholdMin = "ATTEND_DEFAULT_THRESHOLD_MIN"
	EnvDataDir             = "ATTEND_DATA_DIR"
)

// TierConfig is one (threshold, reward role) pair. Tiers are listed
// ascending by threshold in config.
type TierConfig struct {
	Threshold int    `yaml:"threshold"`
	RoleID    string `yaml:"role_id"`
}

// GuildConfig holds per-guild attendance policy overrides.
type GuildConfig struct {
	// Mode is "cumulative" or "continuous"; empty falls back to the
	// process-wide default.
	Mode string `yaml:"mode"`

	// ThresholdMinutes is the qualification threshold; zero falls back to
	// the process-wide default.
	ThresholdMinutes int `yaml:"threshold_minutes"`

	// Tiers is the ordered reward ladder. Empty means tier assignment is
	// disabled for the guild.
	Tiers []TierConfig `yaml:"tiers"`

	// PanicFrozen blocks all role changes for the guild while set.
	PanicFrozen bool `yaml:"panic_frozen"`
}

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion           int                    `yaml:"schema_version"`
	Port                    int                    `yaml:"port"`
	SnapshotIntervalSec     int                    `yaml:"snapshot_interval_sec"`
	DefaultMode             string                 `yaml:"default_mode"`
	DefaultThresholdMinutes int                    `yaml:"default_threshold_minutes"`
	Guilds                  map[string]GuildConfig `yaml:"guilds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:           CurrentSchemaVersion,
		Port:                    8080,
		SnapshotIntervalSec:     300,
		DefaultMode:             "cumulative",
		DefaultThresholdMinutes: 30,
		Guilds:                  map[string]GuildConfig{},
	}
}

// LoadConfig reads config from disk. If the file doesn't exist or is corrupt,
// it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, use defaults (not an error)
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if cfg.SnapshotIntervalSec <= 0 {
		cfg.SnapshotIntervalSec = defaults.SnapshotIntervalSec
	}
	if cfg.DefaultThresholdMinutes <= 0 {
		cfg.DefaultThresholdMinutes = defaults.DefaultThresholdMinutes
	}
	if cfg.DefaultMode != "cumulative" && cfg.DefaultMode != "continuous" {
		cfg.DefaultMode = defaults.DefaultMode
	}
	if cfg.Guilds == nil {
		cfg.Guilds = map[string]GuildConfig{}
	}

	return cfg
}

// SaveConfig writes config to disk atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeBytesAtomic(path, data)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	if v := os.Getenv(EnvSnapshotIntervalSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.SnapshotIntervalSec = sec
		}
	}

	if v := os.Getenv(EnvDefaultMode); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "cumulative" || v == "continuous" {
			cfg.DefaultMode = v
		}
	}

	if v := os.Getenv(EnvDefaultThresholdMin); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.DefaultThresholdMinutes = minutes
		}
	}

	return cfg
}
