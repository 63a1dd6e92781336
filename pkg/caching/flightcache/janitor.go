package flightcache

import (
	"context"

	"github.com/vnykmshr/stageflow/pkg/scheduling/scheduler"
)

// Sweeper is a cache whose expired entries can be swept.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) int
}

// ScheduleSweep registers a periodic Sweep of c on s under the task ID
// "sweep:<name>". spec is any expression scheduler.ScheduleCron accepts.
func ScheduleSweep(s scheduler.Scheduler, spec string, c Sweeper) error {
	return s.ScheduleCron("sweep:"+c.Name(), spec, scheduler.TaskFunc(func(ctx context.Context) error {
		c.Sweep(ctx)
		return nil
	}))
}
