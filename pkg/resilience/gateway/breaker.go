package gateway

import (
	"sync"
	"time"

	"github.com/vnykmshr/stageflow/pkg/common/clock"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// breaker opens after threshold consecutive exhausted calls, rejects calls
// for cooldown, then lets a single trial call through.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

func newBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *breaker {
	if threshold <= 0 {
		return nil
	}
	return &breaker{threshold: threshold, cooldown: cooldown, clock: clk}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trial = true
		return true
	default:
		// half-open: only the trial call is in flight
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
}

func (b *breaker) success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trial = false
}

// failure records an exhausted call and reports whether the breaker opened.
func (b *breaker) failure() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		opened := b.state != StateOpen
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		return opened
	}
	return false
}

// release ends a trial that finished with neither success nor an
// exhausted failure (permanent error, cancellation).
func (b *breaker) release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
}

func (b *breaker) current() BreakerState {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
