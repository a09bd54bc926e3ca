// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// RunsTotal counts finished simulation runs by engine and outcome
	// (complete, partial, cancelled, error).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_runs_total",
		Help: "Total simulation runs by engine and outcome",
	}, []string{"engine", "outcome"})

	// RunDuration tracks wall-clock time of a run.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_run_duration_seconds",
		Help:    "Simulation run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"engine"})

	// ActiveRuns tracks simulations currently executing.
	ActiveRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "risk_active_runs",
		Help: "Number of simulations currently running",
	}, []string{"engine"})

	// TrialsSimulated counts merged Monte Carlo trials.
	TrialsSimulated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_trials_simulated_total",
		Help: "Monte Carlo trials simulated and merged",
	}, []string{"engine"})

	// JobsQueued tracks asynchronous jobs that have not finished yet.
	JobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_jobs_pending",
		Help: "Asynchronous simulation jobs not yet finished",
	})

	// CacheLookups counts catalog cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_catalog_cache_lookups_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := route(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// route returns the chi route pattern so ids and unknown paths do not leak
// into labels.
func route(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
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

// Hijack lets the WebSocket upgrader take over wrapped connections.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
