// Package metrics exposes the engine's Prometheus metrics.
//
// A Metrics value owns its registry and implements the small recorder
// interfaces of the domain packages (ledger.Recorder, ledger.CacheRecorder,
// realtime.SaveRecorder, carryover.Recorder), so those packages never
// import Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hours"

// Metrics collects Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ledgerAppends  *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	realtimeCalls  *prometheus.CounterVec
	autoSaves      *prometheus.CounterVec
	carryoverItems *prometheus.CounterVec
	carryoverRuns  prometheus.Histogram
}

// New creates a registry with the Go and process collectors and every
// engine metric.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		ledgerAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Ledger append attempts by category, transaction type and result.",
		}, []string{"category", "type", "result"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_cache_lookups_total",
			Help:      "Balance cache lookups by result (hit, miss).",
		}, []string{"result"}),
		realtimeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_computations_total",
			Help:      "Real-time hours computations by resulting status.",
		}, []string{"status"}),
		autoSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosave_total",
			Help:      "Auto-save attempts by kind (hourly, daily) and result.",
		}, []string{"kind", "result"}),
		carryoverItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carryover_items_total",
			Help:      "Carry-over items by category and result.",
		}, []string{"category", "result"}),
		carryoverRuns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "carryover_run_duration_seconds",
			Help:      "Duration of carry-over runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
	}
}

// Handler serves /metrics. A nil Metrics answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// =============================================================================
// DOMAIN RECORDERS
// =============================================================================

func (m *Metrics) LedgerAppend(category, txType, result string) {
	m.ledgerAppends.WithLabelValues(category, txType, result).Inc()
}

func (m *Metrics) BalanceCache(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Realtime(status string) {
	m.realtimeCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) AutoSave(kind, result string) {
	m.autoSaves.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CarryoverItem(category, result string) {
	m.carryoverItems.WithLabelValues(category, result).Inc()
}

func (m *Metrics) CarryoverRun(d time.Duration) {
	m.carryoverRuns.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
