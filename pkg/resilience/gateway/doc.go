// Package gateway wraps calls to unreliable upstreams.
//
// Every call runs under a Policy: a per-attempt timeout, a bounded number
// of attempts, and exponential backoff between them. Failures are
// classified into result kinds so callers never see raw transport errors:
//
//	g, err := gateway.New(gateway.DefaultConfig("sites"))
//	site, err := gateway.Call(ctx, g, "getSite", func(ctx context.Context) (Site, error) {
//		return client.GetSite(ctx, id)
//	})
//	if err != nil {
//		kind, _ := result.Classify(err) // UPSTREAM_UNAVAILABLE, NOT_FOUND, ...
//	}
//
// Optional protections sit in front of each attempt: a circuit breaker, a
// token bucket rate limiter, and a concurrency bulkhead. A FaultSource can
// inject failures for resilience testing.
package gateway
