// Package context holds small helpers around context.Context used by the
// gateway and the singleflight cache.
package context

import (
	"context"
	"errors"
	"time"
)

// WithOptionalTimeout derives a context bounded by timeout. A non-positive
// timeout only adds a cancel function, leaving the parent deadline in charge.
func WithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// Detached returns a context that keeps parent's values but is not canceled
// with it. The returned cancel func is the only way to stop it.
func Detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(parent))
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
