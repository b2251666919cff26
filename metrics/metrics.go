/*
Package metrics exposes Prometheus instrumentation for the leave engine.

METRICS:
  leave_transitions_total{action,outcome}  Counter of service transitions
  leave_ledger_retries_total{action}       Counter of re-runs after write conflicts
  leave_transition_seconds{action}         Histogram of transition latency
  leave_http_requests_total{method,route,status}

Each Metrics value owns its registry so tests can build as many as they like.
*/
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

type Metrics struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leave_transitions_total",
			Help: "Leave request and ledger transitions by action and outcome",
		}, []string{"action", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leave_ledger_retries_total",
			Help: "Transitions re-run after a concurrent balance modification",
		}, []string{"action"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leave_transition_seconds",
			Help:    "Transition latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leave_http_requests_total",
			Help: "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveTransition implements leave.Recorder.
func (m *Metrics) ObserveTransition(action, outcome string, elapsed time.Duration) {
	m.transitions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(elapsed.Seconds())
}

// LedgerRetry implements leave.Recorder.
func (m *Metrics) LedgerRetry(action string) {
	m.retries.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
