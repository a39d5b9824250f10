package fieldwork

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	registry       *prometheus.Registry
	Transitions    *prometheus.CounterVec
	CommandErrors  *prometheus.CounterVec
	SettlementLine *prometheus.CounterVec
	ProviderCalls  *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldproof_transitions_total",
			Help: "State transitions applied, by entity.",
		}, []string{"entity", "from", "to"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldproof_command_errors_total",
			Help: "Commands refused or failed, by error kind.",
		}, []string{"command", "kind"}),
		SettlementLine: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldproof_settlement_lines_total",
			Help: "Settlement lines by final provider outcome.",
		}, []string{"kind", "status"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldproof_provider_calls_total",
			Help: "Calls to escrow and storage providers.",
		}, []string{"op", "result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldproof_sweep_duration_seconds",
			Help:    "Duration of reconcile sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.Transitions,
		m.CommandErrors,
		m.SettlementLine,
		m.ProviderCalls,
		m.SweepDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
