package context

import (
	"context"
	"testing"
	"time"

	"github.com/vnykmshr/stageflow/internal/testutil"
)

func TestWithOptionalTimeout(t *testing.T) {
	ctx, cancel := WithOptionalTimeout(context.Background(), 0)
	defer cancel()
	_, hasDeadline := ctx.Deadline()
	testutil.AssertEqual(t, hasDeadline, false)

	ctx2, cancel2 := WithOptionalTimeout(context.Background(), time.Minute)
	defer cancel2()
	_, hasDeadline = ctx2.Deadline()
	testutil.AssertEqual(t, hasDeadline, true)
}

type ctxKey struct{}

func TestDetached(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	ctx, cancel := Detached(parent)
	defer cancel()

	cancelParent()
	testutil.AssertEqual(t, ctx.Err(), nil)
	testutil.AssertEqual(t, ctx.Value(ctxKey{}), any("v"))

	cancel()
	testutil.AssertEqual(t, ctx.Err(), context.Canceled)
}

func TestIsTimedOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	testutil.AssertEqual(t, IsTimedOut(ctx), true)
}
