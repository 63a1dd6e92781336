// Package metrics provides Prometheus instrumentation for stageflow components.
//
// Every component Config takes an optional *Registry. A nil registry disables
// collection, so tests and embedded uses pay nothing.
//
// # Quick Start
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//
//	gw, _ := gateway.New(gateway.Config{Name: "sites", Metrics: m})
//	cache, _ := flightcache.New(flightcache.Config[Site]{Name: "sites", Metrics: m})
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
// Pipeline:
//   - stageflow_pipeline_stage_evaluations_total{pipeline,stage,outcome}
//   - stageflow_pipeline_stage_duration_seconds{pipeline,stage}
//
// Gateway:
//   - stageflow_gateway_attempts_total{gateway,op,result}
//   - stageflow_gateway_calls_total{gateway,op,outcome}
//   - stageflow_gateway_call_duration_seconds{gateway,op}
//   - stageflow_gateway_breaker_state{gateway}
//
// Cache:
//   - stageflow_cache_requests_total{cache,result}
//   - stageflow_cache_loads_total{cache,outcome}
//   - stageflow_cache_tracked_entries{cache}
//
// Writer and use cases:
//   - stageflow_writer_outcomes_total{writer,outcome}
//   - stageflow_usecase_outcomes_total{usecase,kind}
//
// # Custom Registry
//
// Use a dedicated prometheus.Registry per process (or per test) to avoid
// duplicate registration panics against the default registerer.
package metrics
