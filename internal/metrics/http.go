// Package metrics exposes Prometheus collectors for the ops HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/poem-crawler/internal/middleware"
)

// HTTP records request counts and latencies per route.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers the HTTP collectors against reg. A nil reg falls back to
// the default registerer.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &HTTP{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poem_crawler_http_requests_total",
				Help: "Ops server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poem_crawler_http_request_duration_seconds",
				Help:    "Ops server request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
}

// Middleware is a chi middleware that records request metrics.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewStatusRecorder(w)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.Observe(r.Method, route, ww.Status(), time.Since(start))
	})
}

// Observe records one completed request.
func (m *HTTP) Observe(method, route string, code int, d time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}
