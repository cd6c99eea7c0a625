// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	HALLDESK_HOST="0.0.0.0"
//	HALLDESK_PORT="8080"
//	HALLDESK_HEALTH_PORT="9090"
//	HALLDESK_READ_TIMEOUT="15s"
//	HALLDESK_WRITE_TIMEOUT="15s"
//	HALLDESK_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	HALLDESK_POSTGRES_URL="postgres://localhost/halldesk"
//	HALLDESK_POSTGRES_MAX_CONNS="25"
//	HALLDESK_POSTGRES_IDLE_CONNS="5"
//	HALLDESK_POSTGRES_CONN_LIFETIME="5m"
//
// Cache and invalidation settings:
//
//	HALLDESK_CACHE_BACKEND="local"  # local, redis
//	HALLDESK_CACHE_TTL="60s"
//	HALLDESK_CACHE_MAX_ENTRIES="10000"
//	HALLDESK_CACHE_PURGE_INTERVAL="1m"
//	HALLDESK_REDIS_ADDR="redis:6379"
//	HALLDESK_INVALIDATION_CHANNEL="halldesk:rbac:invalidate"
//
// Vocabulary and observability settings:
//
//	HALLDESK_VOCABULARY_FILE="/etc/halldesk/permissions.yaml"
//	HALLDESK_LOG_LEVEL="info"  # debug, info, warn, error
//	HALLDESK_METRICS_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
