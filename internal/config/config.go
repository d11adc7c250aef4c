// Package config loads the quotad and kvproxy configuration from
// environment variables with defaults, and validates it before startup.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - ADMIN_TOKEN: Bearer token for the admin endpoints (admin routes disabled if empty)
//
// Distributed Backend:
//   - RATE_LIMIT_BACKEND: auto, upstash, redis or memory (default: auto)
//   - UPSTASH_REDIS_REST_URL: REST pipeline endpoint
//   - UPSTASH_REDIS_REST_TOKEN: REST bearer token
//   - REDIS_URL: native Redis URL, used when no REST endpoint is set
//   - RATE_LIMIT_TIMEOUT: per-call timeout (default: 2s)
//   - RATE_LIMIT_BREAKER_FAILURES: consecutive failures that open the breaker (default: 5)
//   - RATE_LIMIT_BREAKER_COOLDOWN: how long the breaker stays open (default: 30s)
//
// Local Fallback:
//   - RATE_LIMIT_LOCAL_STORE: memory or sqlite (default: memory)
//   - RATE_LIMIT_SQLITE_PATH: SQLite file (default: ./quota.db)
//
// Plan Limits:
//   - TEAM_AI_LIMIT_FREE: AI interactions per window for free teams (default: 20)
//   - TEAM_AI_LIMIT_SUPPORTER: AI interactions per window for supporters (default: 60)
//   - TEAM_AI_WINDOW: AI quota window (default: 3h)
//
// REST Gateway (kvproxy):
//   - KVPROXY_ADDR: listen address (default: :8079)
//   - KVPROXY_TOKEN: bearer token clients must present (required)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ryhazerus/quota"
)

// Backend modes accepted by RATE_LIMIT_BACKEND.
const (
	BackendAuto    = "auto"
	BackendUpstash = "upstash"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Local store kinds accepted by RATE_LIMIT_LOCAL_STORE.
const (
	LocalMemory = "memory"
	LocalSQLite = "sqlite"
)

// Config holds the quotad configuration.
type Config struct {
	Port       string
	LogLevel   string
	AdminToken string

	Backend          string
	UpstashURL       string
	UpstashToken     string
	RedisURL         string
	Timeout          time.Duration
	BreakerFailures  int
	BreakerCooldown  time.Duration
	LocalStore       string
	SQLitePath       string
	AIFreeLimit      int64
	AISupporterLimit int64
	AIWindow         time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port:       getEnv("PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		Backend:         strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendAuto)),
		UpstashURL:      strings.TrimSpace(getEnv("UPSTASH_REDIS_REST_URL", "")),
		UpstashToken:    strings.TrimSpace(getEnv("UPSTASH_REDIS_REST_TOKEN", "")),
		RedisURL:        strings.TrimSpace(getEnv("REDIS_URL", "")),
		Timeout:         getDurationEnv("RATE_LIMIT_TIMEOUT", 2*time.Second),
		BreakerFailures: getIntEnv("RATE_LIMIT_BREAKER_FAILURES", 5),
		BreakerCooldown: getDurationEnv("RATE_LIMIT_BREAKER_COOLDOWN", 30*time.Second),
		LocalStore:      strings.ToLower(getEnv("RATE_LIMIT_LOCAL_STORE", LocalMemory)),
		SQLitePath:      getEnv("RATE_LIMIT_SQLITE_PATH", "./quota.db"),

		AIFreeLimit:      int64(getIntEnv("TEAM_AI_LIMIT_FREE", 20)),
		AISupporterLimit: int64(getIntEnv("TEAM_AI_LIMIT_SUPPORTER", 60)),
		AIWindow:         getDurationEnv("TEAM_AI_WINDOW", 3*time.Hour),
	}
}

// Plans returns the AI plan limits.
func (c *Config) Plans() quota.Plans {
	return quota.Plans{Free: c.AIFreeLimit, Supporter: c.AISupporterLimit, Window: c.AIWindow}
}

// DistributedMode returns the distributed backend that will be used:
// "upstash", "redis" or "" when the limiter runs on local counters only.
func (c *Config) DistributedMode() string {
	hasREST := c.UpstashURL != "" && c.UpstashToken != ""
	switch c.Backend {
	case BackendUpstash:
		if hasREST {
			return BackendUpstash
		}
	case BackendRedis:
		if c.RedisURL != "" {
			return BackendRedis
		}
	case BackendAuto:
		if hasREST {
			return BackendUpstash
		}
		if c.RedisURL != "" {
			return BackendRedis
		}
	}
	return ""
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number (1-65535), got: %s", c.Port)
	}

	switch c.Backend {
	case BackendAuto, BackendUpstash, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of auto, upstash, redis or memory, got: %s", c.Backend)
	}
	if c.Backend == BackendUpstash && (c.UpstashURL == "" || c.UpstashToken == "") {
		return fmt.Errorf("UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN are required when RATE_LIMIT_BACKEND=upstash")
	}
	if c.Backend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("RATE_LIMIT_TIMEOUT must be positive, got: %v", c.Timeout)
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("RATE_LIMIT_BREAKER_FAILURES must be at least 1, got: %d", c.BreakerFailures)
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("RATE_LIMIT_BREAKER_COOLDOWN must be positive, got: %v", c.BreakerCooldown)
	}

	switch c.LocalStore {
	case LocalMemory:
	case LocalSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("RATE_LIMIT_SQLITE_PATH is required when RATE_LIMIT_LOCAL_STORE=sqlite")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_LOCAL_STORE must be memory or sqlite, got: %s", c.LocalStore)
	}

	if err := c.Plans().Validate(); err != nil {
		return fmt.Errorf("TEAM_AI_LIMIT_*: %w", err)
	}
	return nil
}

// ProxyConfig holds the kvproxy configuration.
type ProxyConfig struct {
	Addr     string
	Token    string
	RedisURL string
	LogLevel string
}

// LoadProxy reads the kvproxy configuration from the environment.
func LoadProxy() *ProxyConfig {
	return &ProxyConfig{
		Addr:     getEnv("KVPROXY_ADDR", ":8079"),
		Token:    getEnv("KVPROXY_TOKEN", ""),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the kvproxy configuration.
func (c *ProxyConfig) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("KVPROXY_TOKEN environment variable is required")
	}
	if len(c.Token) < 16 {
		return fmt.Errorf("KVPROXY_TOKEN must be at least 16 characters long")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns defaultValue when the variable is unset or not an integer.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s", "3h") and bare seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
