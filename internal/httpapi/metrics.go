package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facturo_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facturo_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facturo_ledger_entries_total",
		Help: "Chain entries appended, by chain profile and fingerprint mode.",
	}, []string{"profile", "mode"})

	fingerprintFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facturo_fingerprint_fallbacks_total",
		Help: "Fingerprints computed with the legacy algorithm after a primary-mode fallback.",
	})

	fingerprintFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facturo_fingerprint_failures_total",
		Help: "Fingerprinting operations that did not commit a chain entry, by reason.",
	}, []string{"reason"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records a committed chain entry.
func RecordLedgerAppend(profile, mode string) {
	ledgerEntriesTotal.WithLabelValues(profile, mode).Inc()
}

// RecordFingerprintFallback records a primary-to-legacy degradation.
func RecordFingerprintFallback() {
	fingerprintFallbacksTotal.Inc()
}

// RecordFingerprintFailure records a fingerprinting operation that left the
// invoice without a committed entry.
func RecordFingerprintFailure(reason string) {
	fingerprintFailuresTotal.WithLabelValues(reason).Inc()
}
