package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/stageflow/pkg/common/clock"
	"github.com/vnykmshr/stageflow/pkg/common/errors"
)

// Limit represents the maximum frequency of events per second.
// A zero Limit allows only the initial tokens. Use Inf for unlimited rates.
type Limit float64

// Inf is the infinite rate limit; it allows all events.
var Inf = Limit(math.Inf(1))

// Every converts a minimum time interval between events to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter paces events with a token bucket. Bursts up to Burst pass at
// once; after that events are spaced at Limit per second.
type Limiter interface {
	// Allow reports whether an event may happen now. It does not block.
	Allow() bool

	// AllowN reports whether n events may happen now. It does not block.
	AllowN(n int) bool

	// Wait blocks until an event can happen. It fails at once when ctx
	// would expire before the event's turn.
	Wait(ctx context.Context) error

	// WaitN is Wait for n events.
	WaitN(ctx context.Context, n int) error

	// ReserveN takes n tokens now and reports when they may be used.
	ReserveN(n int) *Reservation

	// Limit returns the refill rate.
	Limit() Limit

	// Burst returns the bucket size.
	Burst() int

	// Tokens returns the number of tokens currently available.
	Tokens() float64
}

// Reservation is a claim on tokens that become usable at a later time.
type Reservation struct {
	ok        bool
	timeToAct time.Time
	tokens    int
	lim       *tokenBucket
}

// OK reports whether the tokens were reserved.
func (r *Reservation) OK() bool {
	return r.ok
}

// DelayFrom returns how long after now the reservation may act.
// It is zero for a reservation that is not OK.
func (r *Reservation) DelayFrom(now time.Time) time.Duration {
	if !r.ok {
		return 0
	}
	if delay := r.timeToAct.Sub(now); delay > 0 {
		return delay
	}
	return 0
}

// Cancel returns the reserved tokens to the bucket.
func (r *Reservation) Cancel() {
	if !r.ok {
		return
	}
	r.lim.cancelReservation(r)
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Rate is the number of tokens added per second.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock supplies the time and the timer Wait sleeps on.
	// Defaults to the system clock.
	Clock clock.Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

type tokenBucket struct {
	mu         sync.Mutex
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      clock.Clock
}

// New creates a full bucket refilled at rate tokens per second.
func New(rate Limit, burst int) (Limiter, error) {
	return NewWithConfig(Config{Rate: rate, Burst: burst, InitialTokens: -1})
}

// NewWithConfig creates a Limiter from config.
func NewWithConfig(config Config) (Limiter, error) {
	if config.Rate < 0 {
		return nil, errors.NewValidationError("bucket", "rate", config.Rate, "rate cannot be negative").
			WithHint("use 0 for no refill or a positive value")
	}
	if config.Burst <= 0 {
		return nil, errors.NewValidationError("bucket", "burst", config.Burst, "burst must be positive").
			WithHint("burst determines how many tokens can be consumed instantly")
	}
	clk := clock.OrSystem(config.Clock)

	initialTokens := float64(config.InitialTokens)
	if config.InitialTokens < 0 || config.InitialTokens > config.Burst {
		initialTokens = float64(config.Burst)
	}

	return &tokenBucket{
		limit:      config.Rate,
		burst:      config.Burst,
		tokens:     initialTokens,
		lastUpdate: clk.Now(),
		clock:      clk,
	}, nil
}
