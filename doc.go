/*
Package stageflow provides building blocks for request handling that must
stay correct when its collaborators are slow, flaky, or fail halfway.

Results (pkg/result):
  - Envelope: uniform success/failure response with a closed error taxonomy

Resilience (pkg/resilience):
  - gateway: per-attempt timeouts, bounded retries, circuit breaker, fault injection
  - quota: call rate shared between processes through Redis

Caching (pkg/caching):
  - flightcache: read-through cache running one loader per key
  - provider: memory, ristretto, bigcache, and Redis byte stores
  - codec: msgpack, JSON, and CBOR value encodings

Scheduling (pkg/scheduling):
  - pipeline: ordered validation stages that stop at the first failure
  - scheduler: cron scheduling for cache sweeps

Persistence (pkg/persistence):
  - twophase: two dependent writes with compensation of the first
  - store: idempotent record stores (memory, Redis)

Use cases (pkg/usecase):
  - ReadFlow and WriteFlow tie the pieces together into one request path

Example usage:

	import (
		"github.com/vnykmshr/stageflow/pkg/caching/flightcache"
		"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	)

	gw, _ := gateway.New(gateway.DefaultConfig("sites"))
	sites, _ := flightcache.New(flightcache.Config[Site]{Name: "sites", TTL: time.Minute})

	site, err := sites.GetOrLoad(ctx, "site:S1", func(ctx context.Context) (Site, error) {
		return gateway.Call(ctx, gw, "getSite", fetchSite)
	})
*/
package stageflow
