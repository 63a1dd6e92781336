// Package clock abstracts time so that retry backoff, circuit breaker
// cooldowns and cache expiry can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and timers. It can be mocked for testing.
type Clock interface {
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time
	// on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// System implements Clock using the system time.
type System struct{}

// Now returns the current system time.
func (System) Now() time.Time {
	return time.Now()
}

// After delegates to time.After.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// OrSystem returns c, or System when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
