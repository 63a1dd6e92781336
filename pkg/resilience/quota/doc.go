// Package quota enforces a call rate shared by every stageflowd process.
//
// A Bucket keeps a token bucket in Redis and refills it atomically inside
// a Lua script, so N processes calling the same upstream together stay
// under Rate calls per second. The gateway accepts a Bucket as its
// limiter:
//
//	bucket, err := quota.New(quota.Config{
//		Client:   rdb,
//		Key:      "stageflow:quota:directory",
//		Rate:     50,
//		Burst:    100,
//		Fallback: local, // bucket.New(10, 10)
//	})
//	gw, err := gateway.New(gateway.Config{Name: "directory", Policy: gateway.DefaultPolicy(), Limiter: bucket})
//
// When Redis cannot be reached, Wait defers to Fallback so a Redis outage
// degrades to per-process limiting instead of blocking every call.
package quota
