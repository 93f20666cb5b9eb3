package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "l10nsync"

// Result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultDryRun  = "dry_run"
)

// Metrics holds the collectors exported at /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	webhooks   *prometheus.CounterVec
	operations *prometheus.CounterVec
	pushes     *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound webhooks by hook and outcome.",
		}, []string{"hook", "result"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Per-resource sync operations by operation and outcome.",
		}, []string{"op", "result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Classified repository pushes by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.webhooks, m.operations, m.pushes)
	return m
}

// Webhook counts one inbound webhook
func (m *Metrics) Webhook(hook, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(hook, result).Inc()
}

// Operation counts one per-resource operation
func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Push counts one classified push
func (m *Metrics) Push(kind string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
