// Package metrics provides Prometheus instrumentation for the farm engine.
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
	// StakesTotal counts ledger mutations, partitioned by action.
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_ledger_actions_total",
		Help: "Total stake/unstake/harvest actions applied",
	}, []string{"action"})

	// RewardsDistributed accumulates reward units paid out across farms.
	RewardsDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farm_rewards_distributed_total",
		Help: "Cumulative reward units distributed",
	})

	// ActiveFarms tracks the number of farms accepting stakes.
	ActiveFarms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farm_active_farms",
		Help: "Number of currently active farms",
	})

	// TotalValueStaked tracks staked units across all farms.
	TotalValueStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farm_total_value_staked",
		Help: "Total staked units across all farms",
	})

	// RejectionsTotal counts requests refused by validation, by reason kind.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_rejections_total",
		Help: "Requests rejected by policy validation",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farm_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is low here.
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
