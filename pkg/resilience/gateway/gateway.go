package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	platform "github.com/jmgilman/go/errors"

	"github.com/vnykmshr/stageflow/pkg/common/clock"
	sfcontext "github.com/vnykmshr/stageflow/pkg/common/context"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/stageflow/pkg/ratelimit/concurrency"
	"github.com/vnykmshr/stageflow/pkg/resilience/quota"
	"github.com/vnykmshr/stageflow/pkg/result"
)

// Config configures a Gateway.
type Config struct {
	// Name labels metrics and logs, e.g. "sites" or "feedback-store".
	Name string

	// Policy applies to every call unless CallWithPolicy overrides it.
	Policy Policy

	// BreakerThreshold opens the circuit after this many consecutive
	// exhausted calls. Zero disables the breaker.
	BreakerThreshold int

	// BreakerCooldown is how long an open circuit rejects calls.
	BreakerCooldown time.Duration

	// RateLimit caps attempts per second with a bucket.Limiter on Clock.
	// Zero means unlimited.
	RateLimit float64

	// RateBurst is the limiter burst. Defaults to 1 when RateLimit is set.
	RateBurst int

	// Limiter gates every attempt, e.g. a quota.Bucket shared between
	// processes. It takes precedence over RateLimit.
	Limiter quota.Limiter

	// MaxConcurrent caps attempts in flight, counting an attempt until fn
	// returns even after its timeout fired. Zero means unlimited.
	MaxConcurrent int

	// Faults injects failures before attempts. Nil injects nothing.
	Faults FaultSource

	// Clock drives backoff sleeps and the breaker cooldown.
	Clock clock.Clock

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns a config with the default policy, a breaker that
// opens after five exhausted calls, and no limits.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Policy:           DefaultPolicy(),
		BreakerThreshold: 5,
		BreakerCooldown:  10 * time.Second,
	}
}

// Gateway wraps calls to an unreliable upstream with per-attempt timeouts,
// bounded retries, and classification of every failure into a result kind.
type Gateway struct {
	config  Config
	clock   clock.Clock
	faults  FaultSource
	log     logging.Logger
	breaker *breaker
	limiter  quota.Limiter
	bulkhead concurrency.Limiter
}

// New creates a Gateway.
func New(config Config) (*Gateway, error) {
	if err := validation.ValidateNotEmpty("gateway", "name", config.Name); err != nil {
		return nil, err
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	if config.BreakerThreshold > 0 {
		if err := validation.ValidateDuration("gateway", "breaker_cooldown", config.BreakerCooldown); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateNonNegative("gateway", "rate_limit", config.RateLimit); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("gateway", "max_concurrent", float64(config.MaxConcurrent)); err != nil {
		return nil, err
	}

	g := &Gateway{
		config: config,
		clock:  clock.OrSystem(config.Clock),
		faults: config.Faults,
		log:    logging.OrNop(config.Logger),
	}
	if g.faults == nil {
		g.faults = NoFaults{}
	}
	g.breaker = newBreaker(config.BreakerThreshold, config.BreakerCooldown, g.clock)
	if config.Limiter != nil {
		g.limiter = config.Limiter
	} else if config.RateLimit > 0 {
		lim, err := NewRateLimiter(config.RateLimit, config.RateBurst, g.clock)
		if err != nil {
			return nil, err
		}
		g.limiter = lim
	}
	if config.MaxConcurrent > 0 {
		bulkhead, err := concurrency.New(config.MaxConcurrent)
		if err != nil {
			return nil, err
		}
		g.bulkhead = bulkhead
	}
	return g, nil
}

// NewRateLimiter builds the local token bucket used for RateLimit. A
// non-positive burst means 1.
func NewRateLimiter(perSecond float64, burst int, clk clock.Clock) (bucket.Limiter, error) {
	if burst <= 0 {
		burst = 1
	}
	return bucket.NewWithConfig(bucket.Config{
		Rate:          bucket.Limit(perSecond),
		Burst:         burst,
		Clock:         clk,
		InitialTokens: -1,
	})
}

// NewSafe creates a Gateway, falling back to DefaultConfig on invalid input.
func NewSafe(config Config) *Gateway {
	g, err := New(config)
	if err != nil {
		name := config.Name
		if name == "" {
			name = "gateway"
		}
		fallback := DefaultConfig(name)
		fallback.Logger = config.Logger
		fallback.Metrics = config.Metrics
		fallback.Clock = config.Clock
		fallback.Faults = config.Faults
		g, _ = New(fallback)
	}
	return g
}

// Name returns the gateway name.
func (g *Gateway) Name() string { return g.config.Name }

// Policy returns the default call policy.
func (g *Gateway) Policy() Policy { return g.config.Policy }

// BreakerState returns the current circuit state.
func (g *Gateway) BreakerState() BreakerState { return g.breaker.current() }

// Call runs op under the gateway's default policy.
func Call[R any](ctx context.Context, g *Gateway, op string, fn func(context.Context) (R, error)) (R, error) {
	return CallWithPolicy(ctx, g, op, g.config.Policy, fn)
}

// CallWithPolicy runs op with at most policy.MaxAttempts attempts.
//
// Each attempt gets its own timeout. Transient failures (timeouts, refused
// connections, retryable platform errors) are retried after a backoff
// delay; permanent failures return at once. Errors are always *result.Error:
//
//   - retries exhausted or circuit open: UPSTREAM_UNAVAILABLE
//   - upstream NOT_FOUND: NOT_FOUND
//   - upstream ALREADY_EXISTS or CONFLICT: DUPLICATE
//   - other permanent failures: UPSTREAM_REJECTED
//   - a panic in fn: INTERNAL
//
// Cancelling ctx stops the retry loop; the outcome is classified from the
// context error.
func CallWithPolicy[R any](ctx context.Context, g *Gateway, op string, policy Policy, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	start := g.clock.Now()

	if !g.breaker.allow() {
		g.finish(op, "circuit_open", start)
		return zero, result.NewError(result.UpstreamUnavailable(),
			fmt.Sprintf("%s is temporarily unavailable", g.config.Name),
			sferrors.NewOperationError(g.config.Name, op, sferrors.ErrCircuitOpen))
	}

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	bo := policy.Backoff.newBackOff(g.clock)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			g.breaker.release()
			return zero, g.abandoned(op, start, err)
		}

		value, err := runAttempt(ctx, g, op, attempt, policy.Timeout, fn)
		if err == nil {
			g.recordAttempt(op, "ok")
			g.breaker.success()
			g.setBreakerGauge()
			g.finish(op, "ok", start)
			return value, nil
		}

		// The caller gave up; the attempt error is a consequence of that.
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.recordAttempt(op, "cancelled")
			g.breaker.release()
			return zero, g.abandoned(op, start, ctxErr)
		}

		if rerr, permanent := classifyPermanent(err); permanent {
			g.recordAttempt(op, "permanent")
			g.breaker.release()
			g.finish(op, string(rerr.Kind().Kind), start)
			g.log.Warn("upstream call rejected", logging.Fields{
				"gateway": g.config.Name, "op": op, "attempt": attempt, "error": err.Error(),
			})
			return zero, rerr
		}

		g.recordAttempt(op, "transient")
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := bo.NextBackOff()
		g.log.Debug("retrying upstream call", logging.Fields{
			"gateway": g.config.Name, "op": op, "attempt": attempt, "delay": delay.String(), "error": err.Error(),
		})
		if delay > 0 {
			select {
			case <-g.clock.After(delay):
			case <-ctx.Done():
				g.breaker.release()
				return zero, g.abandoned(op, start, ctx.Err())
			}
		}
	}

	if g.breaker.failure() {
		g.log.Warn("circuit opened", logging.Fields{"gateway": g.config.Name, "op": op})
	}
	g.setBreakerGauge()
	g.finish(op, string(result.KindUpstreamUnavailable), start)
	g.log.Warn("upstream call exhausted retries", logging.Fields{
		"gateway": g.config.Name, "op": op, "attempts": attempts, "error": errString(lastErr),
	})
	return zero, result.NewError(result.UpstreamUnavailable(),
		fmt.Sprintf("%s did not respond after %d attempts", g.config.Name, attempts),
		sferrors.NewOperationError(g.config.Name, op, lastErr).WithContext(fmt.Sprintf("%d attempts", attempts)))
}

type outcome[R any] struct {
	value R
	err   error
}

// runAttempt runs one try of fn. It returns once the attempt deadline
// passes even if fn ignores its context; the bulkhead permit is held until
// fn itself returns.
func runAttempt[R any](ctx context.Context, g *Gateway, op string, n int, timeout time.Duration, fn func(context.Context) (R, error)) (R, error) {
	var zero R

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, fmt.Errorf("%s: %w", err.Error(), sferrors.ErrRateLimited)
		}
	}
	release := func() {}
	if g.bulkhead != nil {
		if err := g.bulkhead.Wait(ctx); err != nil {
			return zero, err
		}
		release = g.bulkhead.Release
	}

	if err := g.faults.Fault(op, n); err != nil {
		release()
		return zero, err
	}

	attemptCtx, cancel := sfcontext.WithOptionalTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[R], 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[R]{err: result.NewError(result.Internal(), "internal error",
					fmt.Errorf("panic in %s.%s: %v", g.config.Name, op, r))}
			}
		}()
		v, err := fn(attemptCtx)
		done <- outcome[R]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && sfcontext.IsTimedOut(attemptCtx) && ctx.Err() == nil {
			return zero, fmt.Errorf("attempt %d of %s: %w", n, op, sferrors.ErrTimeout)
		}
		return out.value, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("attempt %d of %s: %w", n, op, sferrors.ErrTimeout)
	}
}

// classifyPermanent reports whether err ends the call, and if so the
// classified error to return.
func classifyPermanent(err error) (*result.Error, bool) {
	var rerr *result.Error
	if errors.As(err, &rerr) {
		if rerr.Kind().Retryable() {
			return nil, false
		}
		return rerr, true
	}

	if sferrors.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return nil, false
	}

	var perr platform.PlatformError
	if errors.As(err, &perr) {
		if perr.Classification().IsRetryable() {
			return nil, false
		}
		switch perr.Code() {
		case platform.CodeNotFound:
			return result.NewError(result.NotFound(), perr.Message(), err), true
		case platform.CodeAlreadyExists, platform.CodeConflict:
			return result.NewError(result.Duplicate(), perr.Message(), err), true
		}
		return result.NewError(result.UpstreamRejected(), perr.Message(), err), true
	}

	return result.NewError(result.UpstreamRejected(), "upstream rejected the request", err), true
}

// abandoned classifies a call the caller stopped waiting for.
func (g *Gateway) abandoned(op string, start time.Time, ctxErr error) error {
	kind, msg := result.Classify(ctxErr)
	g.finish(op, "abandoned", start)
	g.log.Debug("upstream call abandoned", logging.Fields{
		"gateway": g.config.Name, "op": op, "error": ctxErr.Error(),
	})
	return result.NewError(kind, msg, sferrors.NewOperationError(g.config.Name, op, ctxErr))
}

func (g *Gateway) recordAttempt(op, outcome string) {
	if m := g.config.Metrics; m != nil {
		m.GatewayAttempts.WithLabelValues(g.config.Name, op, outcome).Inc()
	}
}

func (g *Gateway) finish(op, outcome string, start time.Time) {
	if m := g.config.Metrics; m != nil {
		m.GatewayCalls.WithLabelValues(g.config.Name, op, outcome).Inc()
		m.GatewayCallDuration.WithLabelValues(g.config.Name, op).Observe(g.clock.Now().Sub(start).Seconds())
	}
}

func (g *Gateway) setBreakerGauge() {
	if m := g.config.Metrics; m != nil {
		m.BreakerState.WithLabelValues(g.config.Name).Set(float64(g.breaker.current()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
