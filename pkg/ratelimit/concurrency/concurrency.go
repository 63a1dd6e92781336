package concurrency

import (
	"context"
	"fmt"

	"github.com/vnykmshr/stageflow/pkg/common/errors"
)

// Acquire takes one permit without blocking.
func (cl *concurrencyLimiter) Acquire() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.waiters) == 0 && cl.available >= 1 {
		cl.available--
		return true
	}
	return false
}

// Wait blocks until one permit is available.
func (cl *concurrencyLimiter) Wait(ctx context.Context) error {
	return cl.WaitN(ctx, 1)
}

// WaitN blocks until n permits are available.
func (cl *concurrencyLimiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > cl.capacity {
		return fmt.Errorf("concurrency: %d permits exceed capacity %d: %w", n, cl.capacity, errors.ErrRateLimited)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cl.mu.Lock()
	if len(cl.waiters) == 0 && cl.available >= n {
		cl.available -= n
		cl.mu.Unlock()
		return nil
	}
	w := &waiter{n: n, ready: make(chan struct{})}
	cl.waiters = append(cl.waiters, w)
	cl.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		cl.mu.Lock()
		select {
		case <-w.ready:
			// Granted while cancelling; hand the permits back.
			cl.available += n
			cl.notifyWaiters()
		default:
			cl.removeWaiter(w)
		}
		cl.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns one permit.
func (cl *concurrencyLimiter) Release() {
	cl.ReleaseN(1)
}

// ReleaseN returns n permits.
func (cl *concurrencyLimiter) ReleaseN(n int) {
	if n <= 0 {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.available+n > cl.capacity {
		panic("concurrency: released more permits than acquired")
	}
	cl.available += n
	cl.notifyWaiters()
}

// Capacity returns the maximum number of concurrent operations allowed.
func (cl *concurrencyLimiter) Capacity() int {
	return cl.capacity
}

// Available returns the number of permits currently available.
func (cl *concurrencyLimiter) Available() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.available
}

// InUse returns the number of permits currently held.
func (cl *concurrencyLimiter) InUse() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.capacity - cl.available
}

// notifyWaiters grants permits to waiters in arrival order.
// Must be called with cl.mu held.
func (cl *concurrencyLimiter) notifyWaiters() {
	for len(cl.waiters) > 0 {
		w := cl.waiters[0]
		if cl.available < w.n {
			return
		}
		cl.available -= w.n
		cl.waiters = cl.waiters[1:]
		close(w.ready)
	}
}

// removeWaiter drops w from the queue. Must be called with cl.mu held.
func (cl *concurrencyLimiter) removeWaiter(w *waiter) {
	for i, other := range cl.waiters {
		if other == w {
			cl.waiters = append(cl.waiters[:i], cl.waiters[i+1:]...)
			break
		}
	}
	// The head may have been blocking smaller requests behind it.
	cl.notifyWaiters()
}
