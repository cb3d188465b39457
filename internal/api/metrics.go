package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrationbroker_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrationbroker_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	integrationOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrationbroker_operations_total",
		Help: "Integration lifecycle operations by result.",
	}, []string{"operation", "result"})

	activeIntegrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "integrationbroker_active_integrations",
		Help: "Number of stored integrations.",
	})

	keysetBootstraps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrationbroker_keyset_bootstraps_total",
		Help: "Keyset bootstraps by source (vault, generated).",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, integrationOps, activeIntegrations, keysetBootstraps)
}

// ObserveOperation counts one integration operation outcome.
func ObserveOperation(op, result string) {
	integrationOps.WithLabelValues(op, result).Inc()
}

// ObserveKeysetBootstrap counts one keyset load.
func ObserveKeysetBootstrap(source string) {
	keysetBootstraps.WithLabelValues(source).Inc()
}

// metricsHandler refreshes store gauges before each scrape.
func (s *Server) metricsHandler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store != nil {
			if n, err := s.store.CountIntegrations(r.Context()); err == nil {
				activeIntegrations.Set(float64(n))
			} else {
				log.Warn().Err(err).Msg("counting integrations")
			}
		}
		h.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := routePattern(r)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rr.statusCode)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routePattern returns the matched chi pattern so tokens in paths never
// become label values.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
