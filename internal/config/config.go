package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "functiond.db"
	defaultMaxConcurrent   = 4
	defaultMaxQueue        = 16
	defaultCacheMaxSize    = 1000
	defaultCacheTTL        = 5 * time.Minute
	defaultWarmIdleTimeout = 60 * time.Second
	defaultDrainTimeout    = 10 * time.Second

	envListenAddr      = "FUNCTIOND_LISTEN_ADDR"
	envDBPath          = "FUNCTIOND_DB_PATH"
	envLogLevel        = "FUNCTIOND_LOG_LEVEL"
	envMaxConcurrent   = "FUNCTIOND_MAX_CONCURRENT"
	envMaxQueue        = "FUNCTIOND_MAX_QUEUE"
	envCacheMaxSize    = "FUNCTIOND_CACHE_MAX_SIZE"
	envCacheTTLS       = "FUNCTIOND_CACHE_TTL_S"
	envWarmIdleS       = "FUNCTIOND_WARM_IDLE_TIMEOUT_S"
	envDrainTimeoutS   = "FUNCTIOND_DRAIN_TIMEOUT_S"
	envModelEndpoint   = "FUNCTIOND_MODEL_ENDPOINT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	MaxConcurrent   int
	MaxQueue        int
	CacheMaxSize    int
	CacheTTL        time.Duration
	WarmIdleTimeout time.Duration
	DrainTimeout    time.Duration

	// ModelEndpoint enables the AI-model backend when non-empty.
	ModelEndpoint string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		MaxConcurrent:   defaultMaxConcurrent,
		MaxQueue:        defaultMaxQueue,
		CacheMaxSize:    defaultCacheMaxSize,
		CacheTTL:        defaultCacheTTL,
		WarmIdleTimeout: defaultWarmIdleTimeout,
		DrainTimeout:    defaultDrainTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := parsePositiveInt(os.Getenv(envMaxConcurrent)); v > 0 {
		cfg.MaxConcurrent = v
	}
	if v := parsePositiveInt(os.Getenv(envMaxQueue)); v > 0 {
		cfg.MaxQueue = v
	}
	if v := parsePositiveInt(os.Getenv(envCacheMaxSize)); v > 0 {
		cfg.CacheMaxSize = v
	}
	if v := parsePositiveInt(os.Getenv(envCacheTTLS)); v > 0 {
		cfg.CacheTTL = time.Duration(v) * time.Second
	}
	if v := parsePositiveInt(os.Getenv(envWarmIdleS)); v > 0 {
		cfg.WarmIdleTimeout = time.Duration(v) * time.Second
	}
	if v := parsePositiveInt(os.Getenv(envDrainTimeoutS)); v > 0 {
		cfg.DrainTimeout = time.Duration(v) * time.Second
	}
	cfg.ModelEndpoint = os.Getenv(envModelEndpoint)

	return cfg
}

// parsePositiveInt returns the parsed value, or 0 if s is empty or invalid.
func parsePositiveInt(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
