package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	var counter int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&counter, 1)
	}()

	Eventually(t, func() bool {
		return atomic.LoadInt32(&counter) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMockClockAfter(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewMockClock(start)

	got := <-clk.After(2 * time.Second)
	AssertEqual(t, got, start.Add(2*time.Second))
	AssertEqual(t, clk.Now(), start.Add(2*time.Second))

	clk.Advance(time.Second)
	AssertEqual(t, clk.Now(), start.Add(3*time.Second))
	AssertEqual(t, len(clk.Sleeps()), 1)
}

func TestCounter(t *testing.T) {
	var c Counter
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.Inc()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	AssertEqual(t, c.Load(), 10)
}
