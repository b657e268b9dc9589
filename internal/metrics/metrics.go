// Package metrics provides Prometheus instrumentation for the betting engine.
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
	// BetsPlaced counts accepted bets.
	BetsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_bets_placed_total",
		Help: "Total number of bets accepted",
	})

	// StakeVolume tracks the cumulative amount staked.
	StakeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_stake_volume_total",
		Help: "Cumulative play-money staked on bets",
	})

	// MarketsCreated counts markets opened.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_markets_created_total",
		Help: "Total number of markets created",
	})

	// MarketsSettled counts markets resolved.
	MarketsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_markets_settled_total",
		Help: "Total number of markets settled",
	})

	// PayoutVolume tracks the cumulative amount paid to winning bets.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_payout_volume_total",
		Help: "Cumulative play-money paid out on winning bets",
	})

	// BetCorrections counts admin bet corrections by resulting status.
	BetCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betania_bet_corrections_total",
		Help: "Admin bet status corrections",
	}, []string{"status"})

	// Recharges counts granted balance recharges.
	Recharges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betania_recharges_total",
		Help: "Balance recharges granted",
	})

	// Rejections counts operations refused by a business rule.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betania_rejections_total",
		Help: "Operations rejected by a business rule",
	}, []string{"operation", "reason"})

	// InfraErrors counts operations that failed on infrastructure.
	InfraErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betania_infra_errors_total",
		Help: "Operations failed by an infrastructure fault",
	}, []string{"operation"})

	// OperationLatency tracks the duration of dispatched operations.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betania_operation_latency_seconds",
		Help:    "Operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// EventPublishFailures counts notifications that could not be delivered.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betania_event_publish_failures_total",
		Help: "Notifications that failed to publish",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betania_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betania_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betania_http_request_duration_seconds",
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

		// Route pattern keeps ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the websocket upgrade through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
