package config

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/pkg/caching/codec"
	"github.com/vnykmshr/stageflow/pkg/caching/flightcache"
	"github.com/vnykmshr/stageflow/pkg/caching/provider"
	"github.com/vnykmshr/stageflow/pkg/common/clock"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/resilience/quota"
)

// Deps are the runtime collaborators shared by built components.
type Deps struct {
	Clock   clock.Clock
	Logger  logging.Logger
	Metrics *metrics.Registry

	// QuotaClient backs shared gateway quotas. Required when
	// gateway.quota is enabled.
	QuotaClient goredis.Scripter
}

// NewLogger builds the configured logger. sync flushes buffered entries.
func (l Log) NewLogger() (logger logging.Logger, sync func() error, err error) {
	switch l.Backend {
	case LogLogrus:
		lr, err := logging.NewLogrus(l.Level)
		if err != nil {
			return nil, nil, err
		}
		return lr, func() error { return nil }, nil
	default:
		z, err := logging.NewZap(l.Level)
		if err != nil {
			return nil, nil, err
		}
		return z, z.L.Sync, nil
	}
}

// NewRegistry builds the metrics registry on reg, or returns nil when
// metrics are disabled.
func (m Metrics) NewRegistry(reg prometheus.Registerer) *metrics.Registry {
	return metrics.NewRegistryWithConfig(metrics.Config{
		Enabled:        m.Enabled,
		Registry:       reg,
		Namespace:      m.Namespace,
		LatencyBuckets: m.LatencyBuckets,
	})
}

// NewGateway builds a gateway named name from the shared settings.
func (g Gateway) NewGateway(name string, d Deps) (*gateway.Gateway, error) {
	cfg := gateway.Config{
		Name:             name,
		Policy:           g.Policy,
		BreakerThreshold: g.BreakerThreshold,
		BreakerCooldown:  g.BreakerCooldown,
		RateLimit:        g.RateLimit,
		RateBurst:        g.RateBurst,
		MaxConcurrent:    g.MaxConcurrent,
		Clock:            d.Clock,
		Logger:           d.Logger,
		Metrics:          d.Metrics,
	}
	if g.FaultProbability > 0 {
		cfg.Faults = gateway.NewRandomFaults(g.FaultProbability, g.FaultSeed)
	}
	if g.Quota.Enabled && d.QuotaClient != nil {
		var fallback quota.Limiter
		if g.RateLimit > 0 {
			local, err := gateway.NewRateLimiter(g.RateLimit, g.RateBurst, d.Clock)
			if err != nil {
				return nil, err
			}
			fallback = local
		}
		bucket, err := quota.New(quota.Config{
			Client:   d.QuotaClient,
			Key:      g.Quota.Redis.Prefix + name,
			Rate:     g.Quota.Rate,
			Burst:    g.Quota.Burst,
			Fallback: fallback,
			Clock:    d.Clock,
			Logger:   d.Logger,
		})
		if err != nil {
			return nil, err
		}
		cfg.Limiter = bucket
	}
	return gateway.New(cfg)
}

// NewProvider builds the configured cache provider.
func (c Cache) NewProvider(ctx context.Context, d Deps) (provider.Provider, error) {
	switch c.Provider {
	case provider.KindMemory, "":
		return provider.NewMemory(d.Clock), nil
	case provider.KindRistretto:
		return provider.NewRistretto(c.Ristretto)
	case provider.KindBigcache:
		return provider.NewBigcache(ctx, c.Bigcache)
	case provider.KindRedis:
		client := c.Redis.client()
		return provider.NewRedis(provider.RedisConfig{Client: client, Prefix: c.Redis.Prefix, Closer: client})
	default:
		return nil, &provider.UnknownKindError{Kind: c.Provider}
	}
}

// NewCache builds a flightcache named name over p with the configured codec
// and TTLs.
func NewCache[V any](c Cache, name string, p provider.Provider, d Deps) (*flightcache.Cache[V], error) {
	cd, err := codec.ByName[V](c.Codec)
	if err != nil {
		return nil, err
	}
	return flightcache.New(flightcache.Config[V]{
		Name:     name,
		Provider: p,
		Codec:    cd,
		TTL:      c.TTL,
		StaleTTL: c.StaleTTL,
		Clock:    d.Clock,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	})
}

// NewAuth returns an allow list of the configured actors, or a gate
// admitting any non-empty actor when none are listed.
func (f Feedback) NewAuth() feedback.AuthGate {
	if len(f.Actors) == 0 {
		return feedback.AuthFunc(func(_ context.Context, actor string) bool { return actor != "" })
	}
	allow := make(feedback.AllowList, len(f.Actors))
	for _, a := range f.Actors {
		allow[a] = true
	}
	return allow
}

// NewDirectory returns an in-process directory holding the seeded entries.
func (f Feedback) NewDirectory() *feedback.MemoryDirectory {
	return feedback.NewMemoryDirectory(f.Tourists, f.Sites)
}

// NewClient connects to the quota Redis, or returns nil when quotas are
// disabled.
func (q Quota) NewClient() goredis.UniversalClient {
	if !q.Enabled {
		return nil
	}
	return q.Redis.client()
}

// NewRecords builds the configured record store. The closer releases the
// backing connection.
func (s Store) NewRecords() (store.Records, io.Closer, error) {
	if s.Backend != StoreRedis {
		return store.NewMemory(), nopCloser{}, nil
	}
	client := s.Redis.client()
	records, err := store.NewRedis(client, s.Redis.Prefix, s.MarkerTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return records, client, nil
}

func (r Redis) client() goredis.UniversalClient {
	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    r.Addrs,
		Password: r.Password,
		DB:       r.DB,
	})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
