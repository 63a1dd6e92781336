package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vnykmshr/stageflow/pkg/common/clock"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
	"github.com/vnykmshr/stageflow/pkg/logging"
)

// Limiter blocks until one call may proceed. Both Bucket and the
// in-process bucket.Limiter satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config configures a shared token bucket.
type Config struct {
	// Client runs the bucket script. goredis.UniversalClient satisfies it.
	Client goredis.Scripter

	// Key prefixes the bucket's Redis keys, e.g. "stageflow:quota:directory".
	Key string

	// Rate is the number of tokens added per second across all processes.
	Rate float64

	// Burst is the bucket capacity.
	Burst int

	// RedisTimeout bounds each script call. Defaults to 500ms.
	RedisTimeout time.Duration

	// KeyTTL expires idle buckets. Defaults to one hour.
	KeyTTL time.Duration

	// Fallback is used while Redis is unreachable. Nil fails the wait.
	Fallback Limiter

	Clock  clock.Clock
	Logger logging.Logger
}

// Reservation is the outcome of one attempt to take tokens.
type Reservation struct {
	OK     bool
	Tokens float64

	// Delay is how long until enough tokens accumulate. Zero when OK.
	Delay time.Duration
}

// ErrUnavailable wraps Redis failures when no fallback is configured.
var ErrUnavailable = errors.New("quota: store unavailable")

// Bucket is a token bucket held in Redis, shared by every process using
// the same key.
type Bucket struct {
	config Config
	clock  clock.Clock
	log    logging.Logger
	script *goredis.Script
	tokens string
	last   string
}

var _ Limiter = (*Bucket)(nil)

// New creates a Bucket.
func New(config Config) (*Bucket, error) {
	if config.Client == nil {
		return nil, sferrors.NewValidationError("quota", "client", nil, "must not be nil").
			WithHint("pass a redis.UniversalClient")
	}
	if err := validation.ValidateNotEmpty("quota", "key", config.Key); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveFloat("quota", "rate", config.Rate); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("quota", "burst", config.Burst); err != nil {
		return nil, err
	}
	if config.RedisTimeout <= 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}
	if config.KeyTTL <= 0 {
		config.KeyTTL = time.Hour
	}
	return &Bucket{
		config: config,
		clock:  clock.OrSystem(config.Clock),
		log:    logging.OrNop(config.Logger),
		script: goredis.NewScript(takeScript),
		tokens: config.Key + ":tokens",
		last:   config.Key + ":last_refill",
	}, nil
}

// Key returns the bucket's key prefix.
func (b *Bucket) Key() string { return b.config.Key }

// Reserve tries to take n tokens. A denied reservation takes nothing.
func (b *Bucket) Reserve(ctx context.Context, n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{OK: true}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.RedisTimeout)
	defer cancel()

	res, err := b.script.Run(ctx, b.config.Client, []string{b.tokens, b.last},
		n,
		seconds(b.clock.Now()),
		b.config.Rate,
		b.config.Burst,
		int64(b.config.KeyTTL/time.Second),
	).Slice()
	if err != nil {
		return Reservation{}, sferrors.NewOperationError("quota", "reserve", err)
	}
	return parseReservation(res)
}

// Allow reports whether one call may proceed now, taking a token if so.
func (b *Bucket) Allow(ctx context.Context) bool {
	r, err := b.Reserve(ctx, 1)
	return err == nil && r.OK
}

// Wait blocks until a token is taken or ctx ends. While Redis is
// unreachable it defers to the fallback limiter.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := b.Reserve(ctx, 1)
		if err != nil {
			if b.config.Fallback != nil {
				b.log.Warn("quota store unreachable, using local limiter", logging.Fields{
					"key": b.config.Key, "error": err.Error(),
				})
				return b.config.Fallback.Wait(ctx)
			}
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if r.OK {
			return nil
		}
		select {
		case <-b.clock.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset drops the bucket state so it refills to Burst.
func (b *Bucket) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.RedisTimeout)
	defer cancel()
	return b.config.Client.Eval(ctx, resetScript, []string{b.tokens, b.last}).Err()
}

func parseReservation(res []interface{}) (Reservation, error) {
	if len(res) != 3 {
		return Reservation{}, fmt.Errorf("quota: unexpected script result %v", res)
	}
	allowed, _ := res[0].(int64)
	tokens, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return Reservation{}, fmt.Errorf("quota: tokens: %w", err)
	}
	delay, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
	if err != nil {
		return Reservation{}, fmt.Errorf("quota: delay: %w", err)
	}
	return Reservation{
		OK:     allowed == 1,
		Tokens: tokens,
		Delay:  time.Duration(delay * float64(time.Second)),
	}, nil
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// takeScript refills the bucket for the elapsed time and takes ARGV[1]
// tokens if available. It returns {allowed, tokens_after, delay_seconds}.
const takeScript = `
local requested = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('GET', KEYS[1]) or capacity)
local last = tonumber(redis.call('GET', KEYS[2]) or now)
tokens = math.min(capacity, tokens + math.max(0, now - last) * rate)

local allowed = 0
local delay = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  delay = (requested - tokens) / rate
end

redis.call('SET', KEYS[1], tostring(tokens), 'EX', ttl)
redis.call('SET', KEYS[2], tostring(now), 'EX', ttl)
return {allowed, tostring(tokens), tostring(delay)}
`

const resetScript = `
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`
