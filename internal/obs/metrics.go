// Package obs exposes Prometheus metrics for the API.
package obs

import (
	"net/http"
	"strconv"
	"sync"
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
		[]string{"method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pir_transitions_total",
			Help: "Applied PIR status transitions.",
		},
		[]string{"from", "to"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pir_notifications_total",
			Help: "Notification dispatch attempts by template kind and result.",
		},
		[]string{"kind", "result"},
	)
)

var initOnce sync.Once

// Init registers the metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			transitionsTotal, notificationsTotal)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts an applied status transition.
func ObserveTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveNotification counts a notification dispatch attempt.
func ObserveNotification(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	notificationsTotal.WithLabelValues(kind, result).Inc()
}

// Instrument wraps a handler with request count, latency, and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
