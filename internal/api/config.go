package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/gridsync/internal/rowsync"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DataDir         string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	// APIToken guards mutating routes and streams; empty = open.
	APIToken string

	InitialRows  int // rows pushed when a stream opens (default: 40)
	RowCacheSize int // encoded rows kept per session (default: 256)
	SessionQueue int // pending tasks per session before it is dropped (default: 1024)

	RateLimitWrite int // mutating requests per client and dataset per minute; 0 disables (default: 600)

	CORSAllowedOrigins []string // allowed browser origins; empty = disabled
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DataDir:         "./data/datasets",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		InitialRows:  rowsync.DefaultInitialRows,
		RowCacheSize: 256,
		SessionQueue: 1024,

		RateLimitWrite: 600,
	}

	if v := os.Getenv("GRIDSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GRIDSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GRIDSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("GRIDSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("GRIDSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.APIToken = os.Getenv("GRIDSYNC_API_TOKEN")

	if v := os.Getenv("GRIDSYNC_INITIAL_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.InitialRows = n
		}
	}
	if v := os.Getenv("GRIDSYNC_ROW_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RowCacheSize = n
		}
	}
	if v := os.Getenv("GRIDSYNC_SESSION_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionQueue = n
		}
	}
	if v := os.Getenv("GRIDSYNC_RATE_LIMIT_WRITE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitWrite = n
		}
	}

	if v := os.Getenv("GRIDSYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}
