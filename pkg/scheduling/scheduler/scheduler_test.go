package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/stageflow/internal/testutil"
)

func TestScheduleCronValidation(t *testing.T) {
	s := New()
	noop := TaskFunc(func(context.Context) error { return nil })

	testutil.AssertError(t, s.ScheduleCron("", "@hourly", noop))
	testutil.AssertError(t, s.ScheduleCron("x", "@hourly", nil))
	testutil.AssertError(t, s.ScheduleCron("x", "not a cron", noop))
	testutil.AssertNoError(t, s.ScheduleCron("x", "*/5 * * * *", noop))
	testutil.AssertError(t, s.ScheduleCron("x", "@hourly", noop))
	testutil.AssertNoError(t, s.ScheduleCron("y", "30 */5 * * * *", noop))
	testutil.AssertError(t, s.ScheduleRepeating("z", noop, 0))
}

func TestValidateCronExpression(t *testing.T) {
	testutil.AssertNoError(t, ValidateCronExpression("@every 30s"))
	testutil.AssertNoError(t, ValidateCronExpression("0 9 * * 1-5"))
	err := ValidateCronExpression("61 * * * *")
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "61 * * * *") {
		t.Errorf("error should name the expression: %v", err)
	}
}

func TestRunNowAndCallbacks(t *testing.T) {
	var mu sync.Mutex
	var completed []string
	var failed []string
	s := NewWithConfig(Config{
		OnTaskComplete: func(id string, _ time.Duration, _ error) {
			mu.Lock()
			completed = append(completed, id)
			mu.Unlock()
		},
		OnError: func(id string, _ error) {
			mu.Lock()
			failed = append(failed, id)
			mu.Unlock()
		},
	})

	var runs testutil.Counter
	testutil.AssertNoError(t, s.ScheduleCron("sweep", "@hourly", TaskFunc(func(context.Context) error {
		runs.Inc()
		return nil
	})))
	testutil.AssertNoError(t, s.ScheduleCron("broken", "@hourly", TaskFunc(func(context.Context) error {
		return errors.New("store down")
	})))
	testutil.AssertNoError(t, s.ScheduleCron("panics", "@hourly", TaskFunc(func(context.Context) error {
		panic("bad task")
	})))

	testutil.AssertNoError(t, s.RunNow(context.Background(), "sweep"))
	testutil.AssertError(t, s.RunNow(context.Background(), "broken"))
	testutil.AssertError(t, s.RunNow(context.Background(), "panics"))
	testutil.AssertError(t, s.RunNow(context.Background(), "missing"))

	testutil.AssertEqual(t, runs.Load(), 1)
	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(completed), 3)
	testutil.AssertEqual(t, len(failed), 2)
}

func TestTaskTimeout(t *testing.T) {
	s := NewWithConfig(Config{TaskTimeout: 10 * time.Millisecond})
	testutil.AssertNoError(t, s.ScheduleCron("slow", "@hourly", TaskFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	err := s.RunNow(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCancelAndList(t *testing.T) {
	s := New()
	noop := TaskFunc(func(context.Context) error { return nil })
	testutil.AssertNoError(t, s.ScheduleCron("b", "@hourly", noop))
	testutil.AssertNoError(t, s.ScheduleCron("a", "@daily", noop))

	list := s.List()
	testutil.AssertEqual(t, len(list), 2)
	testutil.AssertEqual(t, list[0].ID, "a")
	testutil.AssertEqual(t, list[1].Spec, "@hourly")

	testutil.AssertEqual(t, s.Cancel("a"), true)
	testutil.AssertEqual(t, s.Cancel("a"), false)
	s.CancelAll()
	testutil.AssertEqual(t, len(s.List()), 0)
}

func TestStartRunsRepeatingTask(t *testing.T) {
	s := New()
	var runs testutil.Counter
	testutil.AssertNoError(t, s.ScheduleRepeating("tick", TaskFunc(func(context.Context) error {
		runs.Inc()
		return nil
	}), time.Second))

	testutil.AssertNoError(t, s.Start())
	testutil.AssertError(t, s.Start())
	testutil.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	select {
	case <-s.Stop():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	list := s.List()
	if list[0].RunCount < 1 {
		t.Errorf("expected run count to be recorded, got %d", list[0].RunCount)
	}
}

func TestStopWithoutStart(t *testing.T) {
	select {
	case <-New().Stop():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Stop on an idle scheduler should return immediately")
	}
}
