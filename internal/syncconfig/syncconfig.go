package syncconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
)

// Config is the gridsync client config stored at ~/.config/gridsync/config.json.
type Config struct {
	URL         string `json:"url"`
	Token       string `json:"token,omitempty"`
	CacheMargin *int   `json:"cache_margin,omitempty"` // nil = default
	Dataset     string `json:"dataset,omitempty"`      // default dataset for commands
}

const (
	defaultServerURL   = "http://localhost:8080"
	defaultCacheMargin = 20
)

// ConfigDir returns ~/.config/gridsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "gridsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the client config. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the client config (0600 perms, it may hold a token).
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0600)
}

// GetServerURL returns the server URL.
// Priority: GRIDSYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("GRIDSYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.URL != "" {
		return cfg.URL
	}
	return defaultServerURL
}

// GetToken returns the bearer token.
// Priority: GRIDSYNC_TOKEN env > config.json.
func GetToken() string {
	if v := os.Getenv("GRIDSYNC_TOKEN"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Token
	}
	return ""
}

// GetCacheMargin returns how many rows the viewer keeps cached beyond the
// visible rows on each side.
// Priority: GRIDSYNC_CACHE_MARGIN env > config.json > default (20).
func GetCacheMargin() int {
	if v := os.Getenv("GRIDSYNC_CACHE_MARGIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.CacheMargin != nil && *cfg.CacheMargin >= 0 {
		return *cfg.CacheMargin
	}
	return defaultCacheMargin
}

// GetDataset returns the default dataset name, if any.
// Priority: GRIDSYNC_DATASET env > config.json.
func GetDataset() string {
	if v := os.Getenv("GRIDSYNC_DATASET"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Dataset
	}
	return ""
}
