/*
Package pipeline provides ordered, short-circuiting validation of requests.

Each stage is a named predicate with an order and a failure message. Stages
run in ascending order and the first rejection ends evaluation: later stages
never run, so nothing may rely on their side effects.

# Quick Start

	p, err := pipeline.New(pipeline.Config{Name: "insert_feedback"},
		pipeline.Stage[*Request]{Order: 10, Name: "auth", Check: isAuthorized, Message: "please log in"},
		pipeline.Stage[*Request]{Order: 20, Name: "duplicate", Check: notYetReleased, Message: "feedback already released"},
		pipeline.Stage[*Request]{Order: 30, Name: "data", Check: ratingInRange, Message: "rating must be 1-5"},
	)

	verdict := p.Evaluate(ctx, req)
	if !verdict.Continue {
		return pipeline.Envelope[Confirmation](verdict) // VALIDATION_FAILED("duplicate"), ...
	}

# Construction

New fails fast when two stages share an order or a name, when a name is empty
or when a check is nil, so evaluation order is always deterministic.

# Failure Kinds

A rejecting stage reports VALIDATION_FAILED(stage name) unless it declares a
Kind such as result.KindNotFound. A check that panics or returns an
unclassified error reports INTERNAL; a check returning a *result.Error (for
example from a gateway lookup) keeps that error's kind. A canceled or expired
context stops evaluation before the next stage.

# Monitoring

	config := pipeline.Config{
		Name: "insert_feedback",
		OnStageComplete: func(r pipeline.StageResult) {
			log.Printf("%s: %s in %v", r.StageName, r.Outcome, r.Duration)
		},
		Metrics: registry,
	}

	stats := p.Stats()
	fmt.Println(stats.StageStats["duplicate"].FailCount)

# Thread Safety

Pipelines are immutable after New and may be evaluated concurrently.
*/
package pipeline
