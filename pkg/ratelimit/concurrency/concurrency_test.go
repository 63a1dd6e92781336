package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/stageflow/internal/testutil"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
)

func newLimiter(t *testing.T, capacity int) Limiter {
	t.Helper()
	l, err := New(capacity)
	testutil.AssertNoError(t, err)
	return l
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		l, err := New(capacity)
		testutil.AssertError(t, err)
		if l != nil {
			t.Error("expected nil limiter on error")
		}
		if !sferrors.IsValidationError(err) {
			t.Errorf("expected a validation error, got %v", err)
		}
	}
}

func TestAcquireAndRelease(t *testing.T) {
	l := newLimiter(t, 2)

	testutil.AssertEqual(t, l.Acquire(), true)
	testutil.AssertEqual(t, l.Acquire(), true)
	testutil.AssertEqual(t, l.Acquire(), false)
	testutil.AssertEqual(t, l.InUse(), 2)
	testutil.AssertEqual(t, l.Available(), 0)

	l.Release()
	testutil.AssertEqual(t, l.Available(), 1)
	testutil.AssertEqual(t, l.Capacity(), 2)
}

func TestReleaseMoreThanAcquiredPanics(t *testing.T) {
	l := newLimiter(t, 1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	l.Release()
}

func TestWaitBoundsConcurrency(t *testing.T) {
	const capacity, workers = 2, 10
	l := newLimiter(t, capacity)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			defer l.Release()
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > capacity {
		t.Errorf("peak in flight %d exceeds capacity %d", p, capacity)
	}
	testutil.AssertEqual(t, l.Available(), capacity)
}

func TestCanceledWaiterLeavesPermitsIntact(t *testing.T) {
	l := newLimiter(t, 1)
	testutil.AssertEqual(t, l.Acquire(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	l.Release()
	testutil.AssertEqual(t, l.Available(), 1)
	testutil.AssertEqual(t, l.Acquire(), true)
}

func TestWaitersAreServedInOrder(t *testing.T) {
	l := newLimiter(t, 2)
	testutil.AssertEqual(t, l.Acquire(), true)
	testutil.AssertEqual(t, l.Acquire(), true)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	big := make(chan error, 1)
	go func() { big <- l.WaitN(ctx, 2) }()
	testutil.Eventually(t, func() bool {
		cl := l.(*concurrencyLimiter)
		cl.mu.Lock()
		defer cl.mu.Unlock()
		return len(cl.waiters) == 1
	}, time.Second, time.Millisecond)

	// A single free permit must not let a later request jump the queue.
	l.Release()
	testutil.AssertEqual(t, l.Acquire(), false)

	l.Release()
	testutil.AssertNoError(t, <-big)
	testutil.AssertEqual(t, l.InUse(), 2)
}

func TestWaitNBeyondCapacity(t *testing.T) {
	l := newLimiter(t, 1)
	if err := l.WaitN(context.Background(), 2); !errors.Is(err, sferrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
