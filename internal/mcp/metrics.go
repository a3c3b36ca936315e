package mcp

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "vire_openapi_mcp"

// Metrics records tool invocations and the size of the active tool set on
// its own registry, so several handlers can coexist in one process.
type Metrics struct {
	registry     *prometheus.Registry
	invocations  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	activeGroups prometheus.Gauge
	activeTools  prometheus.Gauge
	changes      prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of tool invocations",
			},
			[]string{"tool", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_invocation_duration_seconds",
				Help:      "Tool invocation duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		activeGroups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_resource_groups",
			Help:      "Number of active resource groups",
		}),
		activeTools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_tools",
			Help:      "Number of compiled tools exposed to clients",
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_list_changes_total",
			Help:      "Total number of committed active set changes",
		}),
	}
}

// ObserveInvocation records one tool call.
func (m *Metrics) ObserveInvocation(tool, outcome string, d time.Duration) {
	m.invocations.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetActive records the current active set size.
func (m *Metrics) SetActive(groups, tools int) {
	m.activeGroups.Set(float64(groups))
	m.activeTools.Set(float64(tools))
}

// ObserveChange counts a committed active set change.
func (m *Metrics) ObserveChange() {
	m.changes.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
