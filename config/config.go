// Package config persists local profile settings: the identity key location,
// relay overrides, and engine tuning.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "sealbox"
	// DefaultLogLevel is used when no override exists.
	DefaultLogLevel = "info"
	// DefaultFetchTimeoutSeconds bounds one historical inbox fetch.
	DefaultFetchTimeoutSeconds = 15
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// Config contains persistent local profile settings. Empty relay lists mean
// the engine's built-in sets.
type Config struct {
	ProfileID           string   `json:"profile_id"`
	DisplayName         string   `json:"display_name"`
	SecretKeyPath       string   `json:"secret_key_path"`
	KeyFingerprint      string   `json:"key_fingerprint"`
	IndexRelays         []string `json:"index_relays"`
	FallbackRelays      []string `json:"fallback_relays"`
	LogLevel            string   `json:"log_level"`
	FetchTimeoutSeconds int      `json:"fetch_timeout_seconds"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SEALBOX_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("SEALBOX_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *Config {
	displayName := "Sealbox Profile"
	if host, err := os.Hostname(); err == nil && host != "" {
		displayName = host
	}

	return &Config{
		ProfileID:           uuid.NewString(),
		DisplayName:         displayName,
		SecretKeyPath:       filepath.Join(dataDir, "keys", "identity.pem"),
		LogLevel:            DefaultLogLevel,
		FetchTimeoutSeconds: DefaultFetchTimeoutSeconds,
	}
}

func normalizeDefaults(cfg *Config, dataDir string) bool {
	updated := false

	if cfg.ProfileID == "" {
		cfg.ProfileID = uuid.NewString()
		updated = true
	}

	if cfg.DisplayName == "" {
		displayName := "Sealbox Profile"
		if host, err := os.Hostname(); err == nil && host != "" {
			displayName = host
		}
		cfg.DisplayName = displayName
		updated = true
	}

	if cfg.SecretKeyPath == "" {
		cfg.SecretKeyPath = filepath.Join(dataDir, "keys", "identity.pem")
		updated = true
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	if cfg.FetchTimeoutSeconds <= 0 {
		cfg.FetchTimeoutSeconds = DefaultFetchTimeoutSeconds
		updated = true
	}

	return updated
}
