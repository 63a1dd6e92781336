package usecase

import (
	"context"
	"fmt"

	"github.com/vnykmshr/stageflow/pkg/caching/flightcache"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/persistence/twophase"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/result"
	"github.com/vnykmshr/stageflow/pkg/scheduling/pipeline"
)

// Observer receives the outcome of every handled request.
type Observer struct {
	Logger  logging.Logger
	Metrics *metrics.Registry
}

func (o Observer) done(name string, req *Request, success bool, kind *result.ErrorKind, message string) {
	label := "OK"
	if !success {
		if kind == nil {
			internal := result.Internal()
			kind = &internal
		}
		label = string(kind.Kind)
	}
	if m := o.Metrics; m != nil {
		m.UseCaseOutcomes.WithLabelValues(name, label).Inc()
	}
	fields := logging.Fields{
		"usecase":        name,
		"correlation_id": req.CorrelationID(),
		"actor":          req.Actor(),
		"outcome":        label,
	}
	log := logging.OrNop(o.Logger)
	if success {
		log.Info("use case completed", fields)
		return
	}
	fields["kind"] = kind.String()
	fields["message"] = message
	if kind.Kind == result.KindInternal || kind.Kind == result.KindPartialWriteFailure {
		log.Error("use case failed", fields)
		return
	}
	log.Info("use case rejected", fields)
}

// ReadFlow validates a request, then reads a value through a cache whose
// loader calls an upstream through a gateway.
type ReadFlow[V any] struct {
	// Name labels metrics, logs, and gateway calls.
	Name string

	// Pipeline validates the request. Nil skips validation.
	Pipeline *pipeline.Pipeline[*Request]

	// Cache stores loaded values. Nil loads on every request.
	Cache *flightcache.Cache[V]

	// Gateway wraps Fetch. Nil calls Fetch directly.
	Gateway *gateway.Gateway

	// Key derives the cache key. Required when Cache is set.
	Key func(*Request) string

	// Fetch loads the value from the upstream.
	Fetch func(ctx context.Context, req *Request) (V, error)

	// AllowStale serves the last cached value when the upstream is
	// unavailable.
	AllowStale bool

	// Message builds the success message. Nil uses a generic one.
	Message func(v V, stale bool) string

	Observer Observer
}

// Handle runs the flow. It never panics and never returns an error outside
// the envelope.
func (f *ReadFlow[V]) Handle(ctx context.Context, req *Request) (env result.Envelope[V]) {
	defer func() {
		if r := recover(); r != nil {
			env = result.Fail[V](result.Internal(), "")
		}
		f.Observer.done(f.Name, req, env.Success, env.Error, env.Message)
	}()

	if f.Pipeline != nil {
		if v := f.Pipeline.Evaluate(ctx, req); !v.Continue {
			return pipeline.Envelope[V](v)
		}
	}

	load := func(ctx context.Context) (V, error) {
		if f.Gateway == nil {
			return f.Fetch(ctx, req)
		}
		return gateway.Call(ctx, f.Gateway, f.Name, func(ctx context.Context) (V, error) {
			return f.Fetch(ctx, req)
		})
	}

	var (
		value V
		stale bool
		err   error
	)
	switch {
	case f.Cache == nil:
		value, err = load(ctx)
	case f.AllowStale:
		value, stale, err = f.Cache.GetOrLoadStale(ctx, f.Key(req), load)
	default:
		value, err = f.Cache.GetOrLoad(ctx, f.Key(req), load)
	}
	if err != nil {
		return result.FromError[V](err)
	}

	msg := "OK"
	if stale {
		msg = "Showing saved data; the latest could not be loaded."
	}
	if f.Message != nil {
		msg = f.Message(value, stale)
	}
	return result.OK(value, msg)
}

// Invalidator removes a cache key.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Invalidation names a cache key made stale by a successful write.
type Invalidation struct {
	Cache Invalidator
	Key   func(*Request) string
}

// WriteFlow validates a request, then applies two dependent writes.
type WriteFlow struct {
	Name string

	Pipeline *pipeline.Pipeline[*Request]
	Writer   *twophase.Writer

	// Steps builds the two writes for a validated request.
	Steps func(ctx context.Context, req *Request) (a, b twophase.Step, err error)

	// Invalidates lists cache keys dropped after a successful write.
	Invalidates []Invalidation

	Observer Observer
}

// Handle runs the flow. A failing stage means no write is attempted.
func (f *WriteFlow) Handle(ctx context.Context, req *Request) (env result.Envelope[twophase.Confirmation]) {
	defer func() {
		if r := recover(); r != nil {
			env = result.Fail[twophase.Confirmation](result.Internal(), "")
		}
		f.Observer.done(f.Name, req, env.Success, env.Error, env.Message)
	}()

	if f.Pipeline != nil {
		if v := f.Pipeline.Evaluate(ctx, req); !v.Continue {
			return pipeline.Envelope[twophase.Confirmation](v)
		}
	}

	a, b, err := f.Steps(ctx, req)
	if err != nil {
		return result.Fail[twophase.Confirmation](result.Internal(), fmt.Sprintf("The request could not be prepared: %v", err))
	}

	env = f.Writer.Execute(ctx, a, b)
	if env.Success {
		f.invalidate(ctx, req)
	}
	return env
}

// Check runs only the validation pipeline, reporting whether the write
// would be attempted.
func (f *WriteFlow) Check(ctx context.Context, req *Request) pipeline.Verdict {
	if f.Pipeline == nil {
		return pipeline.Verdict{Continue: true}
	}
	return f.Pipeline.Evaluate(ctx, req)
}

func (f *WriteFlow) invalidate(ctx context.Context, req *Request) {
	log := logging.OrNop(f.Observer.Logger)
	for _, inv := range f.Invalidates {
		key := inv.Key(req)
		if err := inv.Cache.Invalidate(ctx, key); err != nil {
			log.Warn("cache invalidation failed", logging.Fields{
				"usecase": f.Name, "key": key, "correlation_id": req.CorrelationID(), "error": err.Error(),
			})
		}
	}
}
