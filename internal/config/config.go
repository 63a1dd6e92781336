// Package config loads the stageflowd configuration from YAML.
//
// Every field has a default, so an empty file (or no file) yields a working
// in-process setup: memory cache, memory store, zap logging at info.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/pkg/caching/codec"
	"github.com/vnykmshr/stageflow/pkg/caching/provider"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/scheduling/scheduler"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "STAGEFLOW_CONFIG"

// Log backends.
const (
	LogZap    = "zap"
	LogLogrus = "logrus"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Cache    Cache    `yaml:"cache"`
	Gateway  Gateway  `yaml:"gateway"`
	Store    Store    `yaml:"store"`
	Feedback Feedback `yaml:"feedback"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds each use case call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Log selects the logging backend.
type Log struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled        bool      `yaml:"enabled"`
	Path           string    `yaml:"path"`
	Namespace      string    `yaml:"namespace"`
	LatencyBuckets []float64 `yaml:"latency_buckets"`
}

// Redis addresses a Redis deployment.
type Redis struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
}

// Cache configures the read caches.
type Cache struct {
	// Provider is one of memory, ristretto, bigcache, redis.
	Provider string `yaml:"provider"`

	// Codec is one of msgpack, json, cbor.
	Codec string `yaml:"codec"`

	TTL      time.Duration `yaml:"ttl"`
	StaleTTL time.Duration `yaml:"stale_ttl"`

	// AllowStale serves expired values when the upstream is unavailable.
	AllowStale bool `yaml:"allow_stale"`

	// Sweep is the cron expression for expiring entries. Empty disables
	// sweeping.
	Sweep string `yaml:"sweep"`

	Ristretto provider.RistrettoConfig `yaml:"ristretto"`
	Bigcache  provider.BigcacheConfig  `yaml:"bigcache"`
	Redis     Redis                    `yaml:"redis"`
}

// Gateway configures every upstream gateway.
type Gateway struct {
	Policy           gateway.Policy `yaml:"policy"`
	BreakerThreshold int            `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration  `yaml:"breaker_cooldown"`
	RateLimit        float64        `yaml:"rate_limit"`
	RateBurst        int            `yaml:"rate_burst"`
	MaxConcurrent    int            `yaml:"max_concurrent"`

	// FaultProbability injects connection failures into each attempt.
	// Meant for demos; keep at zero in production.
	FaultProbability float64 `yaml:"fault_probability"`
	FaultSeed        int64   `yaml:"fault_seed"`

	// Quota shares a rate limit between processes through Redis. RateLimit
	// becomes the per-process fallback while Redis is unreachable.
	Quota Quota `yaml:"quota"`
}

// Quota configures the shared upstream rate limit.
type Quota struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
	Redis   Redis   `yaml:"redis"`
}

// Store configures the record store.
type Store struct {
	Backend   string        `yaml:"backend"`
	MarkerTTL time.Duration `yaml:"marker_ttl"`
	Redis     Redis         `yaml:"redis"`
}

// Feedback configures the feedback service.
type Feedback struct {
	MaxParallelLookups int `yaml:"max_parallel_lookups"`

	// Actors may use the feedback endpoints. Empty allows any non-empty
	// actor.
	Actors []string `yaml:"actors"`

	// Tourists and Sites seed the in-process directory.
	Tourists []feedback.Tourist `yaml:"tourists"`
	Sites    []feedback.Site    `yaml:"sites"`
}

// Default returns the built-in configuration.
func Default() Config {
	gw := gateway.DefaultConfig("default")
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  8 * time.Second,
		},
		Log:     Log{Backend: LogZap, Level: "info"},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
		Cache: Cache{
			Provider:  provider.KindMemory,
			Codec:     codec.NameMsgpack,
			TTL:       5 * time.Minute,
			StaleTTL:  time.Minute,
			Sweep:     "@every 1m",
			Ristretto: provider.DefaultRistrettoConfig(),
			Bigcache:  provider.DefaultBigcacheConfig(),
			Redis:     Redis{Addrs: []string{"localhost:6379"}, Prefix: "stageflow:cache:"},
		},
		Gateway: Gateway{
			Policy:           gw.Policy,
			BreakerThreshold: gw.BreakerThreshold,
			BreakerCooldown:  gw.BreakerCooldown,
			Quota: Quota{
				Rate:  50,
				Burst: 100,
				Redis: Redis{Addrs: []string{"localhost:6379"}, Prefix: "stageflow:quota:"},
			},
		},
		Store: Store{
			Backend:   StoreMemory,
			MarkerTTL: 24 * time.Hour,
			Redis:     Redis{Addrs: []string{"localhost:6379"}, Prefix: "stageflow:"},
		},
		Feedback: Feedback{MaxParallelLookups: 8},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, sferrors.NewOperationError("config", "read", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, sferrors.NewOperationError("config", "parse", fmt.Errorf("%s: %w", path, err))
	}
	return cfg, cfg.Validate()
}

// FromEnv loads the file named by STAGEFLOW_CONFIG, or the defaults when
// the variable is unset. A missing file is an error.
func FromEnv() (Config, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%s=%s: %w", EnvPath, path, err)
	}
	return cfg, err
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []error{
		validation.ValidateNotEmpty("config", "server.addr", c.Server.Addr),
		validation.ValidateDuration("config", "server.shutdown_timeout", c.Server.ShutdownTimeout),
		validation.ValidateDuration("config", "server.request_timeout", c.Server.RequestTimeout),
		validation.ValidateOneOf("config", "log.backend", c.Log.Backend, LogZap, LogLogrus),
		validation.ValidateOneOf("config", "cache.provider", c.Cache.Provider,
			provider.KindMemory, provider.KindRistretto, provider.KindBigcache, provider.KindRedis),
		validation.ValidateOneOf("config", "cache.codec", c.Cache.Codec,
			codec.NameMsgpack, codec.NameJSON, codec.NameCBOR),
		validation.ValidateNonNegative("config", "cache.ttl", c.Cache.TTL.Seconds()),
		validation.ValidateNonNegative("config", "cache.stale_ttl", c.Cache.StaleTTL.Seconds()),
		validation.ValidateProbability("config", "gateway.fault_probability", c.Gateway.FaultProbability),
		validation.ValidateOneOf("config", "store.backend", c.Store.Backend, StoreMemory, StoreRedis),
		validation.ValidatePositive("config", "feedback.max_parallel_lookups", c.Feedback.MaxParallelLookups),
	}
	if c.Metrics.Enabled {
		checks = append(checks, validation.ValidateNotEmpty("config", "metrics.path", c.Metrics.Path))
		for i, b := range c.Metrics.LatencyBuckets {
			if i > 0 && b <= c.Metrics.LatencyBuckets[i-1] {
				checks = append(checks, sferrors.NewValidationError("config", "metrics.latency_buckets", c.Metrics.LatencyBuckets, "must be strictly increasing"))
				break
			}
		}
	}
	if c.Cache.Sweep != "" {
		checks = append(checks, scheduler.ValidateCronExpression(c.Cache.Sweep))
	}
	if c.Cache.Provider == provider.KindRedis {
		checks = append(checks, c.Cache.Redis.validate("cache.redis"))
	}
	if c.Gateway.Quota.Enabled {
		checks = append(checks,
			c.Gateway.Quota.Redis.validate("gateway.quota.redis"),
			validation.ValidatePositiveFloat("config", "gateway.quota.rate", c.Gateway.Quota.Rate),
			validation.ValidatePositive("config", "gateway.quota.burst", c.Gateway.Quota.Burst),
		)
	}
	if c.Store.Backend == StoreRedis {
		checks = append(checks, c.Store.Redis.validate("store.redis"))
	}
	if err := errors.Join(checks...); err != nil {
		return err
	}
	_, err := c.Gateway.NewGateway("config", Deps{})
	return err
}

func (r Redis) validate(section string) error {
	if len(r.Addrs) == 0 {
		return sferrors.NewValidationError("config", section+".addrs", r.Addrs, "must list at least one address").
			WithHint("e.g. addrs: [\"localhost:6379\"]")
	}
	return nil
}
