// Command halldeskd runs the Halldesk RBAC service: the role and team
// admin API, effective permission resolution with caching, and the
// cross-instance cache invalidation bus.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/halldesk/halldesk/pkg/config"
	"github.com/halldesk/halldesk/pkg/httputil"
	"github.com/halldesk/halldesk/pkg/observability"
	"github.com/halldesk/halldesk/pkg/rbac"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting halldeskd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	vocab, err := loadVocabulary(cfg.Vocabulary, logger)
	if err != nil {
		logger.WithError(err).Error("failed to load permission vocabulary")
		os.Exit(1)
	}

	repo := rbac.NewSQLRepository(db)
	if err := rbac.SeedVocabulary(ctx, repo, vocab); err != nil {
		logger.WithError(err).Error("failed to seed permission vocabulary")
		os.Exit(1)
	}
	if err := rbac.SeedSystemRoles(ctx, repo); err != nil {
		logger.WithError(err).Error("failed to seed system roles")
		os.Exit(1)
	}

	// Redis is optional. Without it the engine degrades to a local cache
	// and in-process invalidation, correct for a single instance.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, continuing with local cache and bus")
			redisClient.Close()
			redisClient = nil
		}
		defer func() {
			if redisClient != nil {
				redisClient.Close()
			}
		}()
	}

	var (
		cache      rbac.PermissionCache
		localCache *rbac.LocalPermissionCache
	)
	if cfg.Cache.Backend == "redis" && redisClient != nil {
		cache = rbac.NewRedisPermissionCache(redisClient, logger, metrics)
	} else {
		localCache, err = rbac.NewLocalPermissionCache(cfg.Cache.MaxEntries, rbac.WithCacheMetrics(metrics))
		if err != nil {
			logger.WithError(err).Error("failed to create permission cache")
			os.Exit(1)
		}
		cache = localCache
	}

	var bus rbac.InvalidationBus
	var redisBus *rbac.RedisInvalidationBus
	if redisClient != nil {
		redisBus = rbac.NewRedisInvalidationBus(redisClient, cfg.Cache.InvalidationChannel, logger, metrics)
		bus = redisBus
	} else {
		bus = rbac.NewLocalInvalidationBus()
	}

	resolver := rbac.NewResolver(repo)
	authorizer := rbac.NewAuthorizer(resolver, cache, logger,
		rbac.WithCacheTTL(cfg.Cache.TTL),
		rbac.WithAuthorizerMetrics(metrics))
	service := rbac.NewService(repo, vocab, bus, logger, rbac.WithServiceMetrics(metrics))

	bus.Subscribe(func(event rbac.InvalidationEvent) {
		for _, userID := range event.UserIDs {
			authorizer.Invalidate(context.Background(), userID)
		}
	})
	if redisBus != nil {
		if err := redisBus.Start(ctx); err != nil {
			logger.WithError(err).Error("failed to start invalidation bus")
			os.Exit(1)
		}
		defer redisBus.Close()
	}

	if cfg.Vocabulary.File != "" {
		err := rbac.WatchVocabularyFile(ctx, cfg.Vocabulary.File, logger, func(vocab *rbac.Vocabulary) {
			if err := rbac.SeedVocabulary(ctx, repo, vocab); err != nil {
				logger.WithError(err).Warn("failed to persist reloaded vocabulary")
				return
			}
			service.SetVocabulary(vocab)
		})
		if err != nil {
			logger.WithError(err).Error("failed to watch vocabulary file")
			os.Exit(1)
		}
	}

	scheduler := cron.New()
	if localCache != nil {
		_, err = scheduler.AddFunc("@every "+cfg.Cache.PurgeInterval.String(), func() {
			if purged := localCache.PurgeExpired(); purged > 0 {
				logger.WithField("purged", purged).Debug("purged expired cache entries")
			}
		})
		if err != nil {
			logger.WithError(err).Error("failed to schedule cache purge")
			os.Exit(1)
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	apiServer := buildAPIServer(cfg, service, authorizer, logger, metrics)
	healthServer := buildHealthServer(cfg, db, redisClient, registry)

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		errCh <- apiServer.ListenAndServe()
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		errCh <- healthServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
	logger.Info("halldeskd stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func loadVocabulary(cfg config.VocabularyConfig, logger *observability.Logger) (*rbac.Vocabulary, error) {
	if cfg.File == "" {
		return rbac.DefaultVocabulary(), nil
	}
	vocab, err := rbac.LoadVocabularyFile(cfg.File)
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"file":    cfg.File,
		"version": vocab.Version,
	}).Info("loaded permission vocabulary")
	return vocab, nil
}

func buildAPIServer(cfg *config.Config, service *rbac.Service, authorizer *rbac.Authorizer, logger *observability.Logger, metrics *observability.Metrics) *http.Server {
	router := mux.NewRouter()

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(1 << 20),
	}
	if metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(metrics))
	}
	for _, mw := range middlewares {
		router.Use(mw)
	}

	handler := rbac.NewHandler(service, authorizer, logger)
	handler.RegisterRoutes(router.PathPrefix("/api/v1/rbac").Subrouter())

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func buildHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient, version)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", checker.Readiness)
	healthMux.HandleFunc("/health/live", checker.Liveness)
	healthMux.HandleFunc("/health/ready", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}
