// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging,
// metrics collection and liveness/readiness probes.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Named("rbac_service").Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("user_id", userID).Warn("cache read failed")
//	logger.WithError(err).Error("resolution failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PermissionChecksTotal.WithLabelValues("allowed").Inc()
//	metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
//
// Expose the scrape endpoint:
//
//	mux.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	mux.HandleFunc("/healthz", checker.Liveness)
//	mux.HandleFunc("/readyz", checker.Readiness)
//
// Readiness fails only when the database is down. A down Redis reports the
// service as degraded because the permission engine falls back to its local
// cache.
package observability
