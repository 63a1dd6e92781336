package provider

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
)

// RedisClient is the subset of go-redis used by the Redis provider.
// goredis.UniversalClient satisfies it.
type RedisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// RedisConfig configures a Redis provider.
type RedisConfig struct {
	Client RedisClient

	// Prefix namespaces keys, e.g. "stageflow:cache:".
	Prefix string

	// Closer, when set, is closed by Close. Leave nil for shared clients.
	Closer interface{ Close() error }
}

// Redis is a provider backed by a Redis server, letting several processes
// share READY values.
type Redis struct {
	rdb    RedisClient
	prefix string
	closer interface{ Close() error }
}

var _ Provider = (*Redis)(nil)

// NewRedis creates a Redis provider.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, sferrors.NewValidationError("redis", "client", nil, "must not be nil").
			WithHint("pass a *redis.Client or redis.UniversalClient")
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, closer: cfg.Closer}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, p.prefix+key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.prefix+key).Err()
}

func (p *Redis) Close(context.Context) error {
	if p.closer == nil {
		return nil
	}
	if err := p.closer.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
