package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Port != defaults.Port {
		t.Errorf("Port = %d, want %d", cfg.Port, defaults.Port)
	}
	if cfg.SnapshotIntervalSec != 300 {
		t.Errorf("SnapshotIntervalSec = %d, want 300", cfg.SnapshotIntervalSec)
	}
	if cfg.DefaultMode != "cumulative" {
		t.Errorf("DefaultMode = %q, want cumulative", cfg.DefaultMode)
	}
	if cfg.DefaultThresholdMinutes != 30 {
		t.Errorf("DefaultThresholdMinutes = %d, want 30", cfg.DefaultThresholdMinutes)
	}
}

func TestLoadConfigFrom_ParsesGuildOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
schema_version: 1
port: 9090
snapshot_interval_sec: 120
default_mode: continuous
default_threshold_minutes: 45
guilds:
  "guild-1":
    mode: cumulative
    threshold_minutes: 20
    panic_frozen: true
    tiers:
      - threshold: 3
        role_id: role-bronze
      - threshold: 10
        role_id: role-silver
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	if cfg.Port != 9090 || cfg.SnapshotIntervalSec != 120 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DefaultMode != "continuous" || cfg.DefaultThresholdMinutes != 45 {
		t.Errorf("defaults = %q/%d", cfg.DefaultMode, cfg.DefaultThresholdMinutes)
	}

	g, ok := cfg.Guilds["guild-1"]
	if !ok {
		t.Fatal("guild-1 missing from config")
	}
	if g.Mode != "cumulative" || g.ThresholdMinutes != 20 || !g.PanicFrozen {
		t.Errorf("guild = %+v", g)
	}
	if len(g.Tiers) != 2 || g.Tiers[1].Threshold != 10 || g.Tiers[1].RoleID != "role-silver" {
		t.Errorf("tiers = %+v", g.Tiers)
	}
}

func TestLoadConfigFrom_CorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Errorf("corrupt config should fall back to defaults, got %+v", cfg)
	}
}

func TestLoadConfigFrom_NormalizesBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
schema_version: 1
port: -1
snapshot_interval_sec: 0
default_mode: strict
default_threshold_minutes: -10
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	defaults := DefaultConfig()
	if cfg.Port != defaults.Port || cfg.SnapshotIntervalSec != defaults.SnapshotIntervalSec {
		t.Errorf("cfg = %+v, want normalized defaults", cfg)
	}
	if cfg.DefaultMode != "cumulative" || cfg.DefaultThresholdMinutes != 30 {
		t.Errorf("mode/threshold = %q/%d, want cumulative/30", cfg.DefaultMode, cfg.DefaultThresholdMinutes)
	}
}

func TestSaveConfigTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Port = 8181
	cfg.Guilds["g1"] = GuildConfig{Mode: "continuous", ThresholdMinutes: 60}

	if err := SaveConfigTo(cfg, path); err != nil {
		t.Fatalf("SaveConfigTo: %v", err)
	}

	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if got.Port != 8181 {
		t.Errorf("Port = %d, want 8181", got.Port)
	}
	if g := got.Guilds["g1"]; g.Mode != "continuous" || g.ThresholdMinutes != 60 {
		t.Errorf("guild = %+v", g)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9999")
	t.Setenv(EnvSnapshotIntervalSec, "60")
	t.Setenv(EnvDefaultMode, "continuous")
	t.Setenv(EnvDefaultThresholdMin, "15")

	cfg := ApplyEnvOverrides(DefaultConfig())
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.SnapshotIntervalSec != 60 {
		t.Errorf("SnapshotIntervalSec = %d, want 60", cfg.SnapshotIntervalSec)
	}
	if cfg.DefaultMode != "continuous" {
		t.Errorf("DefaultMode = %q, want continuous", cfg.DefaultMode)
	}
	if cfg.DefaultThresholdMinutes != 15 {
		t.Errorf("DefaultThresholdMinutes = %d, want 15", cfg.DefaultThresholdMinutes)
	}
}

func TestApplyEnvOverrides_RejectsInvalid(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	t.Setenv(EnvDefaultMode, "strict")

	cfg := ApplyEnvOverrides(DefaultConfig())
	defaults := DefaultConfig()
	if cfg.Port != defaults.Port || cfg.DefaultMode != defaults.DefaultMode {
		t.Errorf("invalid env values should be ignored, got %+v", cfg)
	}
}

func TestSecrets_RedactedInLogs(t *testing.T) {
	s := Secret("super-secret-token")
	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", s.String())
	}
	if s.GoString() != "[REDACTED]" {
		t.Errorf("GoString() = %q, want [REDACTED]", s.GoString())
	}
	if s.Value() != "super-secret-token" {
		t.Errorf("Value() = %q", s.Value())
	}
}

func TestLoadSecretsFrom_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	sec := DefaultSecrets()
	sec.AuditWebhookURL = "https://example.test/webhook"
	sec.APIToken = "token123"
	if err := SaveSecretsTo(sec, path); err != nil {
		t.Fatalf("SaveSecretsTo: %v", err)
	}

	got, status, err := LoadSecretsFrom(path)
	if err != nil {
		t.Fatalf("LoadSecretsFrom: %v", err)
	}
	if status != SecretsLoaded {
		t.Errorf("status = %v, want SecretsLoaded", status)
	}
	if got.AuditWebhookURL.Value() != "https://example.test/webhook" || got.APIToken.Value() != "token123" {
		t.Error("secrets did not round-trip")
	}
}

func TestLoadSecretsFrom_Missing(t *testing.T) {
	_, status, err := LoadSecretsFrom(filepath.Join(t.TempDir(), "secrets.json"))
	if err != nil {
		t.Fatalf("LoadSecretsFrom: %v", err)
	}
	if status != SecretsMissing {
		t.Errorf("status = %v, want SecretsMissing", status)
	}
}

func TestLoadSecretsFrom_CorruptIsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte("{broken"), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	_, status, err := LoadSecretsFrom(path)
	if err == nil {
		t.Error("corrupt secrets should return an error")
	}
	if status != SecretsFallback {
		t.Errorf("status = %v, want SecretsFallback (unsafe to overwrite)", status)
	}
}

func TestEnsureAPIToken(t *testing.T) {
	sec := DefaultSecrets()

	updated, token, err := EnsureAPIToken(&sec)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if !updated || token == "" {
		t.Errorf("updated=%v token=%q, want generated token", updated, token)
	}
	if sec.APIToken.Value() != token {
		t.Error("generated token not stored in secrets")
	}

	// A second call leaves the existing token alone.
	updated, token, err = EnsureAPIToken(&sec)
	if err != nil {
		t.Fatalf("second EnsureAPIToken: %v", err)
	}
	if updated || token != "" {
		t.Errorf("updated=%v token=%q, want no-op", updated, token)
	}
}
