/*
Package scheduler runs periodic maintenance tasks, such as cache sweeps,
on cron schedules backed by robfig/cron.

	s := scheduler.NewWithConfig(scheduler.Config{Logger: log})
	_ = s.ScheduleCron("sweep:sites", "@every 1m", scheduler.TaskFunc(func(ctx context.Context) error {
		sites.Sweep(ctx)
		return nil
	}))
	_ = s.Start()
	defer func() { <-s.Stop() }()

Overlapping runs of the same task are skipped and panics are recovered and
reported through Config.OnError.
*/
package scheduler
