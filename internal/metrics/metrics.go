// Package metrics holds the Prometheus collectors of the service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyclecount"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	toggles         *prometheus.CounterVec
	completions     *prometheus.CounterVec
	roleResolutions *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		toggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_toggles_total",
			Help:      "Asset toggle attempts by outcome.",
		}, []string{"outcome"}),
		completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completions_total",
			Help:      "Task completion attempts by outcome.",
		}, []string{"outcome"}),
		roleResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_resolutions_total",
			Help:      "Role lookups by outcome (stored, default, error).",
		}, []string{"outcome"}),
		gatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Remote gateway requests by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

func (m *Metrics) Toggle(outcome string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Completion(outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RoleResolution(outcome string) {
	if m == nil {
		return
	}
	m.roleResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(method, outcome).Inc()
}

// Outcome labels shared by the counters above.
const (
	OutcomeOK            = "ok"
	OutcomeStored        = "stored"
	OutcomeDefault       = "default"
	OutcomeNotFound      = "not_found"
	OutcomeDenied        = "denied"
	OutcomeInvalidState  = "invalid_state"
	OutcomePersistFailed = "persist_failed"
	OutcomeCancelled     = "cancelled"
	OutcomeError         = "error"
	OutcomeRetry         = "retry"
	OutcomeCircuitOpen   = "circuit_open"
)
