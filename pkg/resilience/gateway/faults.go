package gateway

import (
	"fmt"
	"math/rand"
	"sync"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
)

// FaultSource decides whether an attempt fails before reaching the upstream.
// It replaces ad-hoc random interruptions with something tests can script.
type FaultSource interface {
	// Fault returns a non-nil error to fail the given attempt of op.
	Fault(op string, attempt int) error
}

// FaultFunc adapts a function to FaultSource.
type FaultFunc func(op string, attempt int) error

// Fault calls f.
func (f FaultFunc) Fault(op string, attempt int) error { return f(op, attempt) }

// NoFaults never injects a failure.
type NoFaults struct{}

// Fault always returns nil.
func (NoFaults) Fault(string, int) error { return nil }

// RandomFaults fails attempts with probability P, simulating a flaky
// connection. Injected errors are transient.
type RandomFaults struct {
	P float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomFaults creates a RandomFaults with its own seeded source.
func NewRandomFaults(p float64, seed int64) *RandomFaults {
	return &RandomFaults{P: p, rnd: rand.New(rand.NewSource(seed))}
}

// Fault fails the attempt with probability P.
func (r *RandomFaults) Fault(op string, attempt int) error {
	if r.P <= 0 {
		return nil
	}
	r.mu.Lock()
	roll := r.rnd.Float64()
	r.mu.Unlock()
	if roll < r.P {
		return fmt.Errorf("simulated interruption of %s (attempt %d): %w", op, attempt, sferrors.ErrConnectionRefused)
	}
	return nil
}

// FailFirst fails the first n attempts of every call with err.
func FailFirst(n int, err error) FaultSource {
	return FaultFunc(func(_ string, attempt int) error {
		if attempt <= n {
			return err
		}
		return nil
	})
}
