package provider

import (
	"context"
	"time"

	rc "github.com/dgraph-io/ristretto"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
)

// RistrettoConfig sizes a ristretto cache.
type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
	Metrics     bool  `yaml:"metrics"`
}

// DefaultRistrettoConfig holds roughly 10k entries within 64MB.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64}
}

// Ristretto is a provider backed by dgraph-io/ristretto. Cost is the value
// length unless the caller passes one.
type Ristretto struct {
	c *rc.Cache
}

var _ Provider = (*Ristretto)(nil)

// NewRistretto creates a ristretto provider.
func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	for field, v := range map[string]int64{
		"num_counters": cfg.NumCounters,
		"max_cost":     cfg.MaxCost,
		"buffer_items": cfg.BufferItems,
	} {
		if err := validation.ValidatePositive("ristretto", field, int(v)); err != nil {
			return nil, err
		}
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, sferrors.NewOperationError("ristretto", "new", err)
	}
	return &Ristretto{c: c}, nil
}

func (p *Ristretto) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set stores value and waits for ristretto's write buffer so the value is
// visible to the next Get.
func (p *Ristretto) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	p.c.Wait()
	return ok, nil
}

func (p *Ristretto) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Ristretto) Close(context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's own counters when enabled.
func (p *Ristretto) Metrics() *rc.Metrics { return p.c.Metrics }
