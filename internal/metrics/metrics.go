// Package metrics exposes poimap's Prometheus collectors and HTTP middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one server.
type Metrics struct {
	gatherer prometheus.Gatherer

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	expiredRemoved  *prometheus.CounterVec
	poisLoaded      prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poimap_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poimap_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		expiredRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poimap_kv_expired_removed_total",
				Help: "Expired key-value entries removed by the sweeper",
			},
			[]string{"area"},
		),
		poisLoaded: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "poimap_pois_loaded",
				Help: "Number of POIs currently served",
			},
		),
	}
}

// Middleware records request counts and latency by chi route pattern.
// Requests to /metrics are not recorded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ExpiredRemoved adds n to the sweeper counter for area.
func (m *Metrics) ExpiredRemoved(area string, n int) {
	m.expiredRemoved.WithLabelValues(area).Add(float64(n))
}

// SetPOIsLoaded records the size of the served POI collection.
func (m *Metrics) SetPOIsLoaded(n int) {
	m.poisLoaded.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
