package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/stageflow/internal/testutil"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
)

// exerciseProvider checks the behavior every provider shares.
func exerciseProvider(t *testing.T, p Provider) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := p.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := p.Set(ctx, "k", []byte("value"), 0, 0)
	require.NoError(t, err)
	require.True(t, stored)

	got, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, p.Del(ctx, "k"))
	require.NoError(t, p.Del(ctx, "k"))
	_, ok, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	m := NewMemory(nil)
	exerciseProvider(t, m)
	require.NoError(t, m.Close(context.Background()))
}

func TestMemoryExpiresEntries(t *testing.T) {
	clk := testutil.NewMockClock(time.Time{})
	m := NewMemory(clk)
	ctx := context.Background()

	_, err := m.Set(ctx, "k", []byte("v"), 0, time.Minute)
	require.NoError(t, err)

	clk.Advance(59 * time.Second)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, m.Len())
}

func TestMemoryCopiesOnSet(t *testing.T) {
	m := NewMemory(nil)
	buf := []byte("abc")
	_, _ = m.Set(context.Background(), "k", buf, 0, 0)
	buf[0] = 'x'

	got, _, _ := m.Get(context.Background(), "k")
	assert.Equal(t, []byte("abc"), got)
}

func TestRistretto(t *testing.T) {
	p, err := NewRistretto(DefaultRistrettoConfig())
	require.NoError(t, err)
	defer p.Close(context.Background())
	exerciseProvider(t, p)
}

func TestRistrettoRejectsInvalidConfig(t *testing.T) {
	_, err := NewRistretto(RistrettoConfig{})
	require.Error(t, err)
	assert.True(t, sferrors.IsValidationError(err))
}

func TestBigcache(t *testing.T) {
	p, err := NewBigcache(context.Background(), DefaultBigcacheConfig())
	require.NoError(t, err)
	defer p.Close(context.Background())
	exerciseProvider(t, p)
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.data[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func TestRedis(t *testing.T) {
	client := newFakeRedis()
	p, err := NewRedis(RedisConfig{Client: client, Prefix: "sf:"})
	require.NoError(t, err)
	exerciseProvider(t, p)

	_, err = p.Set(context.Background(), "site:1", []byte("x"), 0, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, client.data, "sf:site:1")
	assert.Equal(t, time.Minute, client.ttls["sf:site:1"])
}

func TestRedisSurfacesTransportErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection reset")
	p, err := NewRedis(RedisConfig{Client: client})
	require.NoError(t, err)

	_, ok, err := p.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)

	stored, err := p.Set(context.Background(), "k", []byte("v"), 0, 0)
	assert.Error(t, err)
	assert.False(t, stored)
}

func TestRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	assert.True(t, sferrors.IsValidationError(err))
}
