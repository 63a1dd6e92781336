package concurrency

import (
	"context"
	"sync"

	"github.com/vnykmshr/stageflow/pkg/common/errors"
)

// Limiter caps the number of operations in flight. Waiters are served in
// arrival order.
type Limiter interface {
	// Acquire takes one permit if one is free. It does not block.
	Acquire() bool

	// Wait blocks until a permit is free or ctx ends.
	Wait(ctx context.Context) error

	// WaitN blocks until n permits are free or ctx ends.
	WaitN(ctx context.Context, n int) error

	// Release returns one permit.
	// It panics if more permits are released than were acquired.
	Release()

	// ReleaseN returns n permits.
	ReleaseN(n int)

	// Capacity returns the maximum number of permits.
	Capacity() int

	// Available returns the number of free permits.
	Available() int

	// InUse returns the number of permits held.
	InUse() int
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Capacity is the maximum number of concurrent operations allowed.
	Capacity int
}

type concurrencyLimiter struct {
	mu        sync.Mutex
	capacity  int
	available int
	waiters   []*waiter
}

type waiter struct {
	n     int
	ready chan struct{}
}

// New creates a Limiter with capacity permits.
func New(capacity int) (Limiter, error) {
	return NewWithConfig(Config{Capacity: capacity})
}

// NewWithConfig creates a Limiter from config.
func NewWithConfig(config Config) (Limiter, error) {
	if config.Capacity <= 0 {
		return nil, errors.NewValidationError("concurrency", "capacity", config.Capacity, "capacity must be positive").
			WithHint("capacity determines how many concurrent operations are allowed")
	}
	return &concurrencyLimiter{
		capacity:  config.Capacity,
		available: config.Capacity,
	}, nil
}
