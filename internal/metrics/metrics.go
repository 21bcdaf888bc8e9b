// Package metrics provides Prometheus instrumentation for the venue engine.
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
	// TradesTotal counts settled trades, partitioned by result.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_trades_total",
		Help: "Total number of trades settled",
	}, []string{"result"})

	// TradeLatency tracks end-to-end settlement latency.
	TradeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venue_trade_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementRollbacks counts compensating credits issued after a
	// post-debit settlement step failed.
	SettlementRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_settlement_rollbacks_total",
		Help: "Compensating credits issued for failed settlements",
	})

	// StakeRejections counts trades rejected by the stake limiter.
	StakeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_stake_limit_rejections_total",
		Help: "Trades rejected by the stake limiter",
	})

	// SignalsGenerated counts generated signals by origin.
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_signals_generated_total",
		Help: "Signals generated, partitioned by origin (auto|admin)",
	}, []string{"origin"})

	// SignalsExpired counts signals deactivated by the sweeper.
	SignalsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_signals_expired_total",
		Help: "Signals deactivated by the expiry sweep",
	})

	// PriceTicks counts simulator ticks per instrument.
	PriceTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_price_ticks_total",
		Help: "Synthetic price ticks generated",
	}, []string{"symbol"})

	// WebSocketClients tracks connected price feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venue_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venue_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
