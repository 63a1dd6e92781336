package flightcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vnykmshr/stageflow/pkg/caching/codec"
	"github.com/vnykmshr/stageflow/pkg/caching/provider"
	"github.com/vnykmshr/stageflow/pkg/common/clock"
	sfcontext "github.com/vnykmshr/stageflow/pkg/common/context"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/result"
)

// Loader produces the value for a missing key.
type Loader[V any] func(ctx context.Context) (V, error)

// Config configures a Cache.
type Config[V any] struct {
	// Name labels metrics and logs. Defaults to "cache".
	Name string

	// Provider stores READY values. Defaults to an in-process Memory provider.
	Provider provider.Provider

	// Codec encodes values for the provider. Defaults to msgpack.
	Codec codec.Codec[V]

	// TTL bounds how long a value stays fresh. Zero keeps values until
	// they are invalidated.
	TTL time.Duration

	// StaleTTL keeps expired values around this much longer for
	// GetOrLoadStale. Ignored when TTL is zero.
	StaleTTL time.Duration

	Clock   clock.Clock
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	SharedWaits   int64
	StaleServed   int64
	Loads         int64
	LoadErrors    int64
	Abandoned     int64
	Invalidations int64
	Expired       int64
	Entries       int
}

// Cache is a read-through cache that runs at most one loader per key.
//
// Concurrent GetOrLoad calls for a missing key share a single flight: one
// loader invocation whose value or error every waiter receives. Failed
// loads store nothing. READY values are kept encoded, so every caller
// decodes its own copy.
type Cache[V any] struct {
	name     string
	ttl      time.Duration
	keepFor  time.Duration
	provider provider.Provider
	codec    codec.Codec[V]
	clock    clock.Clock
	log      logging.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	flights map[string]*flight
	ready   map[string]time.Time
	stats   Stats
}

type flight struct {
	done        chan struct{}
	payload     []byte
	err         error
	waiters     int
	abandoned   bool
	invalidated bool
	cancel      context.CancelFunc
}

// New creates a Cache.
func New[V any](config Config[V]) (*Cache[V], error) {
	if err := validation.ValidateNonNegative("flightcache", "ttl", config.TTL.Seconds()); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("flightcache", "stale_ttl", config.StaleTTL.Seconds()); err != nil {
		return nil, err
	}

	c := &Cache[V]{
		name:     config.Name,
		ttl:      config.TTL,
		provider: config.Provider,
		codec:    config.Codec,
		clock:    clock.OrSystem(config.Clock),
		log:      logging.OrNop(config.Logger),
		metrics:  config.Metrics,
		flights:  make(map[string]*flight),
		ready:    make(map[string]time.Time),
	}
	if c.name == "" {
		c.name = "cache"
	}
	if c.provider == nil {
		c.provider = provider.NewMemory(c.clock)
	}
	if c.codec == nil {
		c.codec = codec.Msgpack[V]{}
	}
	if c.ttl > 0 {
		c.keepFor = c.ttl + config.StaleTTL
	}
	return c, nil
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// GetOrLoad returns the READY value for key, or runs load once for all
// concurrent callers and caches its value.
//
// The loader runs on a context detached from any single caller. It is
// cancelled only when every waiter has given up, and a cancelled load
// stores nothing. A caller whose ctx ends returns immediately with the
// classified context error while the flight continues for the others.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, abandonedError(err)
	}

	if v, _, ok := c.lookup(ctx, key, true); ok {
		c.record(func(s *Stats) { s.Hits++ }, "hit")
		return v, nil
	}

	f := c.join(ctx, key, load)
	return c.wait(ctx, key, f)
}

// GetOrLoadStale behaves like GetOrLoad, but when the load fails with a
// retryable error it falls back to the last value stored for key, even if
// expired. stale reports whether the fallback was used.
func (c *Cache[V]) GetOrLoadStale(ctx context.Context, key string, load Loader[V]) (v V, stale bool, err error) {
	v, err = c.GetOrLoad(ctx, key, load)
	if err == nil {
		return v, false, nil
	}
	if kind, _ := result.Classify(err); !kind.Retryable() || ctx.Err() != nil {
		return v, false, err
	}
	if old, _, ok := c.lookup(ctx, key, false); ok {
		c.record(func(s *Stats) { s.StaleServed++ }, "stale")
		c.log.Warn("serving stale value", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
		return old, true, nil
	}
	return v, false, err
}

// Peek returns the fresh READY value for key without loading.
func (c *Cache[V]) Peek(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, ok, err := c.provider.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, insertedAt, err := c.decode(b)
	if err != nil {
		return zero, false, err
	}
	if c.expired(insertedAt, c.ttl) {
		return zero, false, nil
	}
	return v, true, nil
}

// Invalidate removes the READY value for key. When key is loading, the
// flight still delivers its value to the callers already waiting on it,
// but that value is not stored, so the key is EMPTY once the load
// completes. Callers arriving after Invalidate start a new flight.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	f, loading := c.flights[key]
	if loading {
		f.invalidated = true
	}
	delete(c.ready, key)
	c.stats.Invalidations++
	entries := len(c.ready)
	c.mu.Unlock()

	if loading {
		c.log.Debug("invalidated while loading", logging.Fields{"cache": c.name, "key": key})
	}
	c.setEntries(entries)
	return c.provider.Del(ctx, key)
}

// Sweep removes values older than TTL plus StaleTTL and returns how many
// were removed. It does nothing when TTL is zero.
func (c *Cache[V]) Sweep(ctx context.Context) int {
	if c.keepFor <= 0 {
		return 0
	}

	c.mu.Lock()
	var expired []string
	for key, insertedAt := range c.ready {
		if _, loading := c.flights[key]; loading {
			continue
		}
		if c.expired(insertedAt, c.keepFor) {
			expired = append(expired, key)
			delete(c.ready, key)
		}
	}
	c.stats.Expired += int64(len(expired))
	entries := len(c.ready)
	c.mu.Unlock()

	for _, key := range expired {
		if err := c.provider.Del(ctx, key); err != nil {
			c.log.Warn("sweep delete failed", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
		}
	}
	c.setEntries(entries)
	if len(expired) > 0 {
		c.log.Debug("swept expired entries", logging.Fields{"cache": c.name, "count": len(expired)})
	}
	return len(expired)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.ready)
	return s
}

// Close closes the provider.
func (c *Cache[V]) Close(ctx context.Context) error {
	return c.provider.Close(ctx)
}

func (c *Cache[V]) join(ctx context.Context, key string, load Loader[V]) *flight {
	c.mu.Lock()
	if f, ok := c.flights[key]; ok && !f.invalidated {
		f.waiters++
		c.stats.SharedWaits++
		c.mu.Unlock()
		c.observe("shared")
		return f
	}

	loadCtx, cancel := sfcontext.Detached(ctx)
	f := &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
	c.flights[key] = f
	c.stats.Misses++
	c.mu.Unlock()
	c.observe("miss")

	go c.run(loadCtx, key, f, load)
	return f
}

func (c *Cache[V]) wait(ctx context.Context, key string, f *flight) (V, error) {
	var zero V
	select {
	case <-f.done:
		if f.err != nil {
			return zero, f.err
		}
		v, err := c.codec.Decode(f.payload)
		if err != nil {
			return zero, result.NewError(result.Internal(), "cached value could not be decoded", err)
		}
		return v, nil
	case <-ctx.Done():
		c.leave(key, f)
		return zero, abandonedError(ctx.Err())
	}
}

func (c *Cache[V]) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	select {
	case <-f.done:
		return
	default:
	}
	f.abandoned = true
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	c.stats.Abandoned++
}

func (c *Cache[V]) run(ctx context.Context, key string, f *flight, load Loader[V]) {
	defer f.cancel()

	payload, cached, err := c.load(ctx, key, load)

	c.mu.Lock()
	abandoned, invalidated := f.abandoned, f.invalidated
	c.mu.Unlock()

	outcome := "ok"
	switch {
	case abandoned:
		outcome = "abandoned"
		if err == nil {
			err = abandonedError(context.Canceled)
		}
	case err != nil:
		outcome = "error"
	case invalidated:
		outcome = "invalidated"
	case !cached:
		c.store(ctx, key, payload)
	}

	c.mu.Lock()
	f.payload, f.err = payload, err
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	// An Invalidate that raced the store above must still win.
	lateInvalidate := f.invalidated && !invalidated && err == nil
	if lateInvalidate {
		delete(c.ready, key)
	}
	if !cached && !abandoned {
		c.stats.Loads++
		if err != nil {
			c.stats.LoadErrors++
		}
	}
	entries := len(c.ready)
	c.mu.Unlock()
	if lateInvalidate {
		if derr := c.provider.Del(ctx, key); derr != nil {
			c.log.Warn("cache delete failed", logging.Fields{"cache": c.name, "key": key, "error": derr.Error()})
		}
	}
	close(f.done)

	if !cached {
		if m := c.metrics; m != nil {
			m.CacheLoads.WithLabelValues(c.name, outcome).Inc()
		}
	}
	c.setEntries(entries)
	if err != nil && !abandoned {
		c.log.Debug("load failed", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
	}
}

// load re-checks the provider, since another flight may have stored the
// key after this caller missed, then runs the loader and encodes its value.
func (c *Cache[V]) load(ctx context.Context, key string, load Loader[V]) (payload []byte, cached bool, err error) {
	if b, ok, gerr := c.provider.Get(ctx, key); gerr == nil && ok {
		if _, insertedAt, derr := c.decodeFrame(b); derr == nil && !c.expired(insertedAt, c.ttl) {
			return b[frameHeader:], true, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			payload, cached = nil, false
			err = result.NewError(result.Internal(), "internal error", fmt.Errorf("panic loading %s: %v", key, r))
		}
	}()

	v, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	b, err := c.codec.Encode(v)
	if err != nil {
		return nil, false, result.NewError(result.Internal(), "value could not be encoded", err)
	}
	return b, false, nil
}

func (c *Cache[V]) store(ctx context.Context, key string, payload []byte) {
	now := c.clock.Now()
	framed := make([]byte, frameHeader+len(payload))
	binary.BigEndian.PutUint64(framed, uint64(now.UnixNano()))
	copy(framed[frameHeader:], payload)

	ok, err := c.provider.Set(ctx, key, framed, int64(len(framed)), c.keepFor)
	if err != nil {
		c.log.Warn("cache store failed", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
		return
	}
	if !ok {
		c.log.Debug("cache store dropped", logging.Fields{"cache": c.name, "key": key})
		return
	}
	c.mu.Lock()
	c.ready[key] = now
	c.mu.Unlock()
}

// lookup reads and decodes key. With fresh set, expired values are misses.
// Provider errors are logged and treated as misses.
func (c *Cache[V]) lookup(ctx context.Context, key string, fresh bool) (V, time.Time, bool) {
	var zero V
	b, ok, err := c.provider.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
		return zero, time.Time{}, false
	}
	if !ok {
		return zero, time.Time{}, false
	}
	v, insertedAt, err := c.decode(b)
	if err != nil {
		c.log.Warn("dropping undecodable entry", logging.Fields{"cache": c.name, "key": key, "error": err.Error()})
		_ = c.provider.Del(ctx, key)
		return zero, time.Time{}, false
	}
	if fresh && c.expired(insertedAt, c.ttl) {
		return zero, insertedAt, false
	}
	return v, insertedAt, true
}

const frameHeader = 8

var errShortFrame = errors.New("flightcache: entry shorter than header")

func (c *Cache[V]) decodeFrame(b []byte) ([]byte, time.Time, error) {
	if len(b) < frameHeader {
		return nil, time.Time{}, errShortFrame
	}
	insertedAt := time.Unix(0, int64(binary.BigEndian.Uint64(b[:frameHeader])))
	return b[frameHeader:], insertedAt, nil
}

func (c *Cache[V]) decode(b []byte) (V, time.Time, error) {
	var zero V
	payload, insertedAt, err := c.decodeFrame(b)
	if err != nil {
		return zero, time.Time{}, err
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		return zero, time.Time{}, err
	}
	return v, insertedAt, nil
}

func (c *Cache[V]) expired(insertedAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && !c.clock.Now().Before(insertedAt.Add(ttl))
}

func (c *Cache[V]) record(update func(*Stats), label string) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
	c.observe(label)
}

func (c *Cache[V]) observe(label string) {
	if m := c.metrics; m != nil {
		m.CacheRequests.WithLabelValues(c.name, label).Inc()
	}
}

func (c *Cache[V]) setEntries(n int) {
	if m := c.metrics; m != nil {
		m.CacheEntries.WithLabelValues(c.name).Set(float64(n))
	}
}

func abandonedError(err error) error {
	kind, msg := result.Classify(err)
	return result.NewError(kind, msg, err)
}
