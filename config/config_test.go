package config

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SEALBOX_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.ProfileID == "" {
		t.Fatalf("expected non-empty profile ID")
	}
	if firstCfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, firstCfg.LogLevel)
	}
	if firstCfg.FetchTimeoutSeconds != DefaultFetchTimeoutSeconds {
		t.Fatalf("expected default fetch timeout %d, got %d", DefaultFetchTimeoutSeconds, firstCfg.FetchTimeoutSeconds)
	}

	expectedKeyPath := filepath.Join(tempDir, "keys", "identity.pem")
	if firstCfg.SecretKeyPath != expectedKeyPath {
		t.Fatalf("expected secret key path %q, got %q", expectedKeyPath, firstCfg.SecretKeyPath)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.ProfileID != firstCfg.ProfileID {
		t.Fatalf("expected stable profile ID, got %q then %q", firstCfg.ProfileID, secondCfg.ProfileID)
	}
	if secondCfg.SecretKeyPath != firstCfg.SecretKeyPath {
		t.Fatalf("expected stable key path, got %q then %q", firstCfg.SecretKeyPath, secondCfg.SecretKeyPath)
	}
}

func TestLoadOrCreateFillsMissingDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SEALBOX_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	partial := &Config{
		ProfileID:   "existing-profile",
		IndexRelays: []string{"wss://index.example.com"},
	}
	if err := Save(cfgPath, partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.ProfileID != "existing-profile" {
		t.Fatalf("expected existing profile ID to be retained, got %q", cfg.ProfileID)
	}
	if len(cfg.IndexRelays) != 1 || cfg.IndexRelays[0] != "wss://index.example.com" {
		t.Fatalf("expected existing index relays to be retained, got %v", cfg.IndexRelays)
	}
	if cfg.SecretKeyPath != filepath.Join(tempDir, "keys", "identity.pem") {
		t.Fatalf("expected key path default to be filled, got %q", cfg.SecretKeyPath)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected log level default to be filled, got %q", cfg.LogLevel)
	}
	if cfg.FetchTimeoutSeconds != DefaultFetchTimeoutSeconds {
		t.Fatalf("expected fetch timeout default to be filled, got %d", cfg.FetchTimeoutSeconds)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load after normalization failed: %v", err)
	}
	if reloaded.LogLevel != DefaultLogLevel {
		t.Fatalf("expected normalized config to be persisted, got level %q", reloaded.LogLevel)
	}
}
