package bucket

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vnykmshr/stageflow/pkg/common/errors"
)

// Allow reports whether an event may happen now.
func (tb *tokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (tb *tokenBucket) AllowN(n int) bool {
	return tb.reserveN(tb.clock.Now(), n, 0).ok
}

// Wait blocks until an event can happen.
func (tb *tokenBucket) Wait(ctx context.Context) error {
	return tb.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen. A wait that would outlast the
// ctx deadline, or that no refill can ever satisfy, fails with
// errors.ErrRateLimited without taking tokens.
func (tb *tokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := tb.clock.Now()
	maxWait := time.Duration(math.MaxInt64)
	if deadline, ok := ctx.Deadline(); ok {
		maxWait = deadline.Sub(now)
	}
	r := tb.reserveN(now, n, maxWait)
	if !r.OK() {
		return fmt.Errorf("bucket: %d tokens not available in time: %w", n, errors.ErrRateLimited)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-tb.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// ReserveN reserves n tokens, waiting as long as it takes.
func (tb *tokenBucket) ReserveN(n int) *Reservation {
	return tb.reserveN(tb.clock.Now(), n, math.MaxInt64)
}

// Limit returns the current rate limit.
func (tb *tokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limit
}

// Burst returns the current burst size.
func (tb *tokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

// Tokens returns the number of tokens currently available.
func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.updateTokens(tb.clock.Now())
	return tb.tokens
}

// reserveN reserves n tokens at now if they are usable within maxWait.
func (tb *tokenBucket) reserveN(now time.Time, n int, maxWait time.Duration) *Reservation {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	granted := func(at time.Time, tokens int) *Reservation {
		return &Reservation{ok: true, timeToAct: at, tokens: tokens, lim: tb}
	}
	denied := &Reservation{tokens: n, lim: tb}

	if n <= 0 {
		return granted(now, 0)
	}
	if tb.limit == Inf {
		return granted(now, n)
	}

	tb.updateTokens(now)
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return granted(now, n)
	}
	// Zero rate: only the initial tokens can ever be used.
	if tb.limit == 0 || n > tb.burst {
		return denied
	}

	tokensNeeded := float64(n) - tb.tokens
	waitTime := time.Duration(float64(time.Second) * tokensNeeded / float64(tb.limit))
	if waitTime > maxWait {
		return denied
	}

	// Tokens may go negative; later callers queue behind this one.
	tb.tokens -= float64(n)
	return granted(now.Add(waitTime), n)
}

// updateTokens adds tokens for the time elapsed since the last update.
func (tb *tokenBucket) updateTokens(now time.Time) {
	if tb.limit == Inf {
		tb.tokens = float64(tb.burst)
		tb.lastUpdate = now
		return
	}

	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	if tb.limit > 0 {
		tb.tokens = math.Min(tb.tokens+elapsed.Seconds()*float64(tb.limit), float64(tb.burst))
	}
	tb.lastUpdate = now
}

func (tb *tokenBucket) cancelReservation(r *Reservation) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.updateTokens(tb.clock.Now())
	tb.tokens = math.Min(tb.tokens+float64(r.tokens), float64(tb.burst))
}
