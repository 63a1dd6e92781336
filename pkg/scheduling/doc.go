/*
Package scheduling groups the components that decide what runs and when.

  - pipeline: ordered validation stages with short-circuit evaluation
  - scheduler: cron and interval scheduling on robfig/cron

Pipeline:

A pipeline evaluates its stages in ascending Order and stops at the first
failure:

	p, err := pipeline.New(pipeline.Config{Name: "insertFeedback"},
		pipeline.Stage[*usecase.Request]{Order: 10, Name: "auth", Check: isLoggedIn},
		pipeline.Stage[*usecase.Request]{Order: 20, Name: "data", Check: hasValidRating},
	)
	verdict := p.Evaluate(ctx, req)

Scheduler:

The scheduler runs periodic maintenance such as cache sweeps:

	s := scheduler.New()
	s.ScheduleCron("sweep:sites", "@every 1m", scheduler.TaskFunc(sweep))
	s.Start()
	defer func() { <-s.Stop() }()

Both are safe for concurrent use and honor context cancellation.
*/
package scheduling
