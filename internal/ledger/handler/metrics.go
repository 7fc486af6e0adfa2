package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcx_ledger_events_total",
		Help: "Total ledger events appended, by action.",
	}, []string{"action"})

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcx_ledger_verifications_total",
		Help: "Total chain verification runs by outcome.",
	}, []string{"result"})

	ledgerAnchorAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcx_ledger_anchor_attempts_total",
		Help: "Total anchor publish attempts by target and status.",
	}, []string{"target", "status"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcx_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcx_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
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

// RecordLedgerAppend records a successfully appended ledger event.
func RecordLedgerAppend(action string) {
	ledgerEventsTotal.WithLabelValues(action).Inc()
}

// RecordVerification records a chain verification run outcome.
func RecordVerification(valid bool) {
	if valid {
		ledgerVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		ledgerVerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordAnchorAttempt records an anchor publish attempt. It matches the
// anchor publisher's metrics callback signature.
func RecordAnchorAttempt(target string, success bool) {
	if success {
		ledgerAnchorAttemptsTotal.WithLabelValues(target, "success").Inc()
	} else {
		ledgerAnchorAttemptsTotal.WithLabelValues(target, "failure").Inc()
	}
}
