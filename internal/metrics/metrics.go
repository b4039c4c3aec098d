// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts executed orders, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockarena_orders_total",
		Help: "Total number of orders executed",
	}, []string{"side"})

	// OrderRejections counts rejected orders by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockarena_order_rejections_total",
		Help: "Orders rejected at validation",
	}, []string{"reason"})

	// OrderLatency tracks execution latency by side.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockarena_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// QuoteCacheHits counts quote cache hits within the staleness bound.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockarena_quote_cache_hits_total",
		Help: "Quote cache hits",
	})

	// QuoteCacheMisses counts quote cache misses triggering a source fetch.
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockarena_quote_cache_misses_total",
		Help: "Quote cache misses",
	})

	// QuoteStaleServes counts expired quotes served because the source failed.
	QuoteStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockarena_quote_stale_serves_total",
		Help: "Expired quotes served flagged stale",
	})

	// ActiveCompetitions tracks the number of active competitions.
	ActiveCompetitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockarena_active_competitions",
		Help: "Number of currently active competitions",
	})

	// SnapshotsTotal counts portfolio snapshots, partitioned by completeness.
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockarena_snapshots_total",
		Help: "Portfolio snapshots taken",
	}, []string{"complete"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockarena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockarena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockarena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// NotifierFailures counts notification sends that failed (non-fatal).
	NotifierFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockarena_notifier_failures_total",
		Help: "Notification sends that failed",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
