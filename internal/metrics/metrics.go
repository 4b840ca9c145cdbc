// Package metrics provides process-wide Prometheus instrumentation: HTTP
// traffic, database pool stats and runtime gauges. Domain packages register
// their own collectors.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric the service exports.
const Namespace = "propline"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter, by route.",
		},
		[]string{"path"},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitedTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleDBStats(db)
		}
	}
}

func sampleDBStats(db *sql.DB) {
	stats := db.Stats()
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBIdleConnections.Set(float64(stats.Idle))
	DBInUseConnections.Set(float64(stats.InUse))
	DBWaitCount.Set(float64(stats.WaitCount))
	DBWaitDuration.Set(stats.WaitDuration.Seconds())
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern, keeps label cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
