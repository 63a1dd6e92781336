// Package provider defines the byte stores that back flightcache.
//
// A Provider must be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for the key. Implementations wrap an
// in-process map, ristretto, bigcache, or Redis.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider is a concurrency-safe byte store with optional TTLs.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ok is false when the store dropped the write.
	// A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Provider kinds accepted by configuration.
const (
	KindMemory    = "memory"
	KindRistretto = "ristretto"
	KindBigcache  = "bigcache"
	KindRedis     = "redis"
)

// UnknownKindError reports an unsupported provider kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("provider: unknown kind %q", e.Kind)
}
