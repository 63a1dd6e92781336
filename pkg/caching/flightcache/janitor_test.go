package flightcache

import (
	"context"
	"testing"
	"time"

	"github.com/vnykmshr/stageflow/internal/testutil"
	"github.com/vnykmshr/stageflow/pkg/scheduling/scheduler"
)

func TestScheduleSweep(t *testing.T) {
	clk := testutil.NewMockClock(time.Time{})
	c := newCache(t, Config[visited]{Name: "visited", TTL: time.Second, Clock: clk})
	var calls testutil.Counter
	_, err := c.GetOrLoad(context.Background(), "k", constLoader(&calls, visited{}))
	testutil.AssertNoError(t, err)

	s := scheduler.New()
	testutil.AssertNoError(t, ScheduleSweep(s, "@every 1m", c))
	testutil.AssertError(t, ScheduleSweep(s, "@every 1m", c))

	clk.Advance(time.Second)
	testutil.AssertNoError(t, s.RunNow(context.Background(), "sweep:visited"))
	testutil.AssertEqual(t, c.Stats().Expired, int64(1))
	testutil.AssertEqual(t, c.Stats().Entries, 0)
}
