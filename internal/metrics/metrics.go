// Package metrics exposes Prometheus instrumentation for the routing,
// orchestration, and triad-review layers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Router / tiered dispatch (C3, C4).
	CallsTotal       *prometheus.CounterVec // tier, provider, outcome
	CallLatencyMs    *prometheus.HistogramVec
	TokensTotal      *prometheus.CounterVec // tier, provider
	QuotaDeniedTotal *prometheus.CounterVec // tier, reason
	RetriesTotal     *prometheus.CounterVec // tier, reason

	// Pipeline orchestrator (C6).
	PhaseLatencyMs *prometheus.HistogramVec // phase
	RunsTotal      *prometheus.CounterVec   // outcome

	// Triad reviewer (C7).
	TriadRoundsTotal   *prometheus.CounterVec // outcome (converged, exhausted)
	TriadOpinionsTotal *prometheus.CounterVec // role, outcome (ok, placeholder)

	// Temporal circuit breaker.
	TemporalUp            prometheus.Gauge
	TemporalCircuitState  prometheus.Gauge   // 0=closed, 1=open, 2=half-open
	TemporalFallbackTotal prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_llm_calls_total",
			Help: "Total LLM calls attempted through the tiered router",
		}, []string{"tier", "provider", "outcome"}),
		CallLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noesis_llm_call_latency_ms",
			Help:    "LLM call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"tier", "provider"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_llm_tokens_total",
			Help: "Total tokens consumed",
		}, []string{"tier", "provider"}),
		QuotaDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_quota_denied_total",
			Help: "Total calls denied because a quota was exhausted",
		}, []string{"tier", "reason"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_router_retries_total",
			Help: "Total retries issued by the tiered router",
		}, []string{"tier", "reason"}),
		PhaseLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noesis_phase_latency_ms",
			Help:    "Orchestrator phase latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"phase"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_runs_total",
			Help: "Total pipeline runs by terminal outcome",
		}, []string{"outcome"}),
		TriadRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_triad_rounds_total",
			Help: "Total triad review rounds by outcome",
		}, []string{"outcome"}),
		TriadOpinionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noesis_triad_opinions_total",
			Help: "Total triad reviewer opinions by role and outcome",
		}, []string{"role", "outcome"}),
		TemporalUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "noesis_temporal_up",
			Help: "Whether the Temporal workflow engine is connected (1=up, 0=down/disabled)",
		}),
		TemporalCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "noesis_temporal_circuit_state",
			Help: "Temporal circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TemporalFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "noesis_temporal_fallback_total",
			Help: "Total runs that fell back to the local engine due to the circuit breaker",
		}),
	}
	reg.MustRegister(
		m.CallsTotal, m.CallLatencyMs, m.TokensTotal, m.QuotaDeniedTotal, m.RetriesTotal,
		m.PhaseLatencyMs, m.RunsTotal,
		m.TriadRoundsTotal, m.TriadOpinionsTotal,
		m.TemporalUp, m.TemporalCircuitState, m.TemporalFallbackTotal,
	)
	return m
}

// Handler exposes the registry in Prometheus text exposition format. The
// caller decides whether and how to serve it; noesis itself has no HTTP
// transport of its own.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
