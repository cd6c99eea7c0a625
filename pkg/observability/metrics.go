package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	PermissionChecksTotal     *prometheus.CounterVec
	PermissionResolvesTotal   *prometheus.CounterVec
	PermissionResolveDuration *prometheus.HistogramVec

	// Permission cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheEntries        *prometheus.GaugeVec

	// Invalidation bus metrics
	InvalidationsPublishedTotal *prometheus.CounterVec
	InvalidationsReceivedTotal  prometheus.Counter
	InvalidationFanoutSize      prometheus.Histogram

	// Admin mutation metrics
	AdminMutationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "halldesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "halldesk_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),
		PermissionResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_permission_resolves_total",
				Help: "Total number of effective permission resolutions",
			},
			[]string{"status"},
		),
		PermissionResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "halldesk_permission_resolve_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"backend"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_permission_cache_evictions_total",
				Help: "Total number of permission cache evictions",
			},
			[]string{"backend", "reason"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "halldesk_permission_cache_entries",
				Help: "Current number of cached permission sets",
			},
			[]string{"backend"},
		),

		InvalidationsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_invalidations_published_total",
				Help: "Total number of invalidation events published",
			},
			[]string{"reason"},
		),
		InvalidationsReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halldesk_invalidations_received_total",
				Help: "Total number of invalidation events received",
			},
		),
		InvalidationFanoutSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "halldesk_invalidation_fanout_size",
				Help:    "Number of users evicted per invalidation event",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		AdminMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_admin_mutations_total",
				Help: "Total number of role and team admin mutations",
			},
			[]string{"operation", "status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "halldesk_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "halldesk_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halldesk_redis_errors_total",
				Help: "Total number of Redis command errors",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PermissionChecksTotal,
		m.PermissionResolvesTotal,
		m.PermissionResolveDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.InvalidationsPublishedTotal,
		m.InvalidationsReceivedTotal,
		m.InvalidationFanoutSize,
		m.AdminMutationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisErrorsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
