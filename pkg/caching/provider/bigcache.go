package provider

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
)

// BigcacheConfig configures a bigcache provider. Bigcache expires entries
// after a global LifeWindow; per-entry TTLs passed to Set are ignored.
type BigcacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window"`
	CleanWindow        time.Duration `yaml:"clean_window"`
	MaxEntriesInWindow int           `yaml:"max_entries_in_window"`
	MaxEntrySize       int           `yaml:"max_entry_size"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb"`
}

// DefaultBigcacheConfig keeps entries for ten minutes.
func DefaultBigcacheConfig() BigcacheConfig {
	return BigcacheConfig{LifeWindow: 10 * time.Minute, CleanWindow: time.Minute}
}

// Bigcache is a provider backed by allegro/bigcache.
type Bigcache struct {
	c *bc.BigCache
}

var _ Provider = (*Bigcache)(nil)

// NewBigcache creates a bigcache provider.
func NewBigcache(ctx context.Context, cfg BigcacheConfig) (*Bigcache, error) {
	if err := validation.ValidateDuration("bigcache", "life_window", cfg.LifeWindow); err != nil {
		return nil, err
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, sferrors.NewOperationError("bigcache", "new", err)
	}
	return &Bigcache{c: c}, nil
}

func (p *Bigcache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Bigcache) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Bigcache) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Bigcache) Close(context.Context) error {
	return p.c.Close()
}
