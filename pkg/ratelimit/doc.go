// Package ratelimit holds the in-process limiters the gateway puts in
// front of an upstream.
//
//   - bucket: token bucket pacing attempts per second, driven by an
//     injectable clock so waits are deterministic under test.
//   - concurrency: bulkhead capping attempts in flight.
//
// pkg/resilience/quota shares a bucket between processes through Redis and
// falls back to a local bucket while Redis is down.
package ratelimit
