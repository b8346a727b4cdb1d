package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings, loaded from the environment.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Storage
	DatabasePath string
	CacheDir     string

	// Upstream market API
	MarketV1URL string
	MarketV2URL string

	// Rate limiting (hard upstream cap: N requests per window)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Analysis
	RequestTimeout  time.Duration
	AnalysisTimeout time.Duration
	WorkerCount     int
	DefaultStrategy string
	PollInterval    time.Duration // 0 disables background polling

	// HTTP surface
	CORSOrigins []string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8000"),

		DatabasePath: getEnvOrDefault("DATABASE_PATH", "cache/market_runs.sqlite"),
		CacheDir:     getEnvOrDefault("CACHE_DIR", "cache"),

		MarketV1URL: getEnvOrDefault("MARKET_V1_URL", "https://api.warframe.market/v1"),
		MarketV2URL: getEnvOrDefault("MARKET_V2_URL", "https://api.warframe.market/v2"),

		RateLimitRequests: getIntOrDefault("RATE_LIMIT_REQUESTS", 3),
		RateLimitWindow:   getDurationOrDefault("RATE_LIMIT_WINDOW", time.Second),

		RequestTimeout:  getDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second),
		AnalysisTimeout: getDurationOrDefault("ANALYSIS_TIMEOUT", 600*time.Second),
		WorkerCount:     getIntOrDefault("WORKER_COUNT", 8),
		DefaultStrategy: getEnvOrDefault("DEFAULT_STRATEGY", "balanced"),
		PollInterval:    time.Duration(getIntOrDefault("ANALYSIS_POLL_INTERVAL_SECONDS", 0)) * time.Second,

		CORSOrigins: splitAndTrim(getEnvOrDefault("CORS_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}
	if !strings.HasSuffix(c.DatabasePath, ".sqlite") {
		return fmt.Errorf("DATABASE_PATH must end with .sqlite, got %q", c.DatabasePath)
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	switch c.DefaultStrategy {
	case "safe_steady", "balanced", "aggressive":
	default:
		return fmt.Errorf("DEFAULT_STRATEGY must be safe_steady, balanced or aggressive, got %q", c.DefaultStrategy)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
