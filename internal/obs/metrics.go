package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Refresh token exchanges by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics with the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		authLoginsTotal, authRefreshTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountLogin records a login attempt outcome ("success", "failure", "disabled").
func CountLogin(outcome string) {
	authLoginsTotal.WithLabelValues(outcome).Inc()
}

// CountRefresh records a refresh exchange outcome ("success", "rejected",
// "expired", "disabled").
func CountRefresh(outcome string) {
	authRefreshTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
