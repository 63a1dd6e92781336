// Package metrics provides Prometheus instrumentation for stageflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for stageflow components.
// A nil *Registry is valid everywhere and records nothing.
type Registry struct {
	// Validation Pipeline Metrics
	StageEvaluations *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec

	// Gateway Metrics
	GatewayAttempts     *prometheus.CounterVec
	GatewayCalls        *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	BreakerState        *prometheus.GaugeVec

	// Cache Metrics
	CacheRequests *prometheus.CounterVec
	CacheLoads    *prometheus.CounterVec
	CacheEntries  *prometheus.GaugeVec

	// Write Metrics
	WriteOutcomes *prometheus.CounterVec

	// Use Case Metrics
	UseCaseOutcomes *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace, constant
// labels and latency buckets in config. It returns nil when config is disabled.
func NewRegistryWithConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	factory := promauto.With(config.registerer())
	ns := config.namespace()
	labels := config.Labels
	buckets := config.buckets()

	return &Registry{
		StageEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "pipeline",
				Name:        "stage_evaluations_total",
				Help:        "Validation stage evaluations by outcome (pass, fail, error)",
				ConstLabels: labels,
			},
			[]string{"pipeline", "stage", "outcome"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "pipeline",
				Name:        "stage_duration_seconds",
				Help:        "Time spent evaluating a validation stage",
				Buckets:     buckets,
				ConstLabels: labels,
			},
			[]string{"pipeline", "stage"},
		),

		GatewayAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "gateway",
				Name:        "attempts_total",
				Help:        "Upstream call attempts by result (ok, transient, permanent)",
				ConstLabels: labels,
			},
			[]string{"gateway", "op", "result"},
		),

		GatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "gateway",
				Name:        "calls_total",
				Help:        "Upstream calls by final outcome kind",
				ConstLabels: labels,
			},
			[]string{"gateway", "op", "outcome"},
		),

		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "gateway",
				Name:        "call_duration_seconds",
				Help:        "Total time of an upstream call including retries",
				Buckets:     buckets,
				ConstLabels: labels,
			},
			[]string{"gateway", "op"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "gateway",
				Name:        "breaker_state",
				Help:        "Circuit breaker state (0 closed, 1 half-open, 2 open)",
				ConstLabels: labels,
			},
			[]string{"gateway"},
		),

		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "cache",
				Name:        "requests_total",
				Help:        "Cache lookups by result (hit, miss, shared, stale)",
				ConstLabels: labels,
			},
			[]string{"cache", "result"},
		),

		CacheLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "cache",
				Name:        "loads_total",
				Help:        "Loader executions by outcome (ok, error, cancelled)",
				ConstLabels: labels,
			},
			[]string{"cache", "outcome"},
		),

		CacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "cache",
				Name:        "tracked_entries",
				Help:        "Entries currently tracked by the cache index",
				ConstLabels: labels,
			},
			[]string{"cache"},
		),

		WriteOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "writer",
				Name:        "outcomes_total",
				Help:        "Two-step write outcomes (committed, replayed, first_failed, compensated, compensation_failed)",
				ConstLabels: labels,
			},
			[]string{"writer", "outcome"},
		),

		UseCaseOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "usecase",
				Name:        "outcomes_total",
				Help:        "Use case envelopes by kind (OK or the error kind)",
				ConstLabels: labels,
			},
			[]string{"usecase", "kind"},
		),
	}
}
