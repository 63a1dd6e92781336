package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every stageflow metric.
const DefaultNamespace = "stageflow"

// Config selects where and how the stageflow collectors register.
type Config struct {
	// Enabled false makes NewRegistryWithConfig return a nil Registry.
	Enabled bool

	// Registry receives the collectors; nil means prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace replaces DefaultNamespace when set.
	Namespace string

	// Labels are attached as constant labels to every collector,
	// typically the service or deployment name.
	Labels prometheus.Labels

	// LatencyBuckets bound the stage and upstream call histograms.
	// Empty means prometheus.DefBuckets.
	LatencyBuckets []float64
}

func (c Config) registerer() prometheus.Registerer {
	if c.Registry == nil {
		return prometheus.DefaultRegisterer
	}
	return c.Registry
}

func (c Config) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}

func (c Config) buckets() []float64 {
	if len(c.LatencyBuckets) == 0 {
		return prometheus.DefBuckets
	}
	return c.LatencyBuckets
}
