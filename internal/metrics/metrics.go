// Package metrics provides Prometheus instrumentation for the exit engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersOpened counts open attempts by outcome: submitted, rejected or error.
	OrdersOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_orders_opened_total",
		Help: "Sell order open attempts by outcome",
	}, []string{"outcome"})

	// OrdersCancelled counts orders cancelled through the API.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exit_engine_orders_cancelled_total",
		Help: "Sell orders cancelled by users",
	})

	// OrderTransitions counts status changes applied by reconciliation.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_order_transitions_total",
		Help: "Order status transitions applied by sync",
	}, []string{"from", "to"})

	// SyncDuration tracks reconciliation latency by trigger (api, cron).
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exit_engine_sync_duration_seconds",
		Help:    "Order sync latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	// ExchangeErrors counts failed gateway calls by operation.
	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_exchange_errors_total",
		Help: "Exchange gateway failures",
	}, []string{"op"})

	// StrategiesSaved counts persisted strategy updates by kind.
	StrategiesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_strategies_saved_total",
		Help: "Exit strategies saved",
	}, []string{"kind"})

	// LaddersApplied counts ladders materialized into planned orders.
	LaddersApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_ladders_applied_total",
		Help: "Strategy ladders applied to loans",
	}, []string{"kind"})

	// PriceFetchErrors counts failed market price lookups.
	PriceFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exit_engine_price_fetch_errors_total",
		Help: "Failed BTC/CZK price lookups",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exit_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exit_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exit_engine_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern so IDs do not become labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
