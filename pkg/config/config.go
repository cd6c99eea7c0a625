// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/halldesk/halldesk/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Vocabulary    VocabularyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration. An empty address disables Redis;
// the engine then runs with a local cache and in-process invalidation.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds permission cache configuration
type CacheConfig struct {
	// Backend is "local" or "redis"
	Backend string
	TTL     time.Duration
	// MaxEntries bounds the local cache
	MaxEntries int
	// PurgeInterval is the cron schedule period for sweeping expired
	// local entries
	PurgeInterval time.Duration
	// InvalidationChannel is the Redis pub/sub channel for eviction events
	InvalidationChannel string
}

// VocabularyConfig holds permission vocabulary configuration
type VocabularyConfig struct {
	// File is an optional YAML file merged over the built-in vocabulary.
	// When set, it is watched and hot-reloaded on change.
	File string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HALLDESK_HOST", "0.0.0.0"),
			Port:            getEnv("HALLDESK_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HALLDESK_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HALLDESK_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HALLDESK_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HALLDESK_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("HALLDESK_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("HALLDESK_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("HALLDESK_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("HALLDESK_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("HALLDESK_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("HALLDESK_REDIS_ADDR", ""),
			Password: getEnv("HALLDESK_REDIS_PASSWORD", ""),
			DB:       getEnvInt("HALLDESK_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Backend:             getEnv("HALLDESK_CACHE_BACKEND", "local"),
			TTL:                 getEnvDuration("HALLDESK_CACHE_TTL", 60*time.Second),
			MaxEntries:          getEnvInt("HALLDESK_CACHE_MAX_ENTRIES", 10000),
			PurgeInterval:       getEnvDuration("HALLDESK_CACHE_PURGE_INTERVAL", time.Minute),
			InvalidationChannel: getEnv("HALLDESK_INVALIDATION_CHANNEL", "halldesk:rbac:invalidate"),
		},
		Vocabulary: VocabularyConfig{
			File: getEnv("HALLDESK_VOCABULARY_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("HALLDESK_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("HALLDESK_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be local or redis)", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
