// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts portfolio mutations, partitioned by action
	// (buy/sell/short/cover) and outcome (ok/rejected).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castmkt_orders_total",
		Help: "Total buy/sell/short/cover operations",
	}, []string{"action", "outcome"})

	// OrderLatency tracks order execution latency by action.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "castmkt_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// TradesTotal counts peer-to-peer trade transitions by terminal action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castmkt_trades_total",
		Help: "Peer-to-peer trade transitions",
	}, []string{"action"})

	// SettlementDuration tracks the wall-clock time of a full episode
	// settlement batch.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "castmkt_settlement_duration_seconds",
		Help:    "Episode settlement batch duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	// SettlementErrors counts per-ledger settlement failures that were
	// logged and skipped.
	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castmkt_settlement_errors_total",
		Help: "Per-ledger settlement failures (logged and skipped)",
	})

	// ActiveSurvivors tracks the number of still-tradable survivors.
	ActiveSurvivors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castmkt_active_survivors",
		Help: "Number of tradable (not eliminated) survivors",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castmkt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castmkt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "castmkt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

// Hijack forwards to the underlying writer so websocket upgrades work
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: underlying writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
