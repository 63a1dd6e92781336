package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
)

// RedisClient is the subset of go-redis used by Redis.
// goredis.UniversalClient satisfies it.
type RedisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

// Redis stores each collection as a hash. A Put is a replay while the hash
// field exists or while its commit marker is live, so an expired marker
// never lets a replay overwrite a stored record. Delete removes both.
type Redis struct {
	client    RedisClient
	prefix    string
	markerTTL time.Duration
}

var _ Records = (*Redis)(nil)

// NewRedis creates a Redis store. markerTTL bounds how long commit markers
// are kept; choose it larger than the longest retry window. Zero means
// 24 hours.
func NewRedis(client RedisClient, prefix string, markerTTL time.Duration) (*Redis, error) {
	if client == nil {
		return nil, sferrors.NewValidationError("store", "client", nil, "must not be nil")
	}
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &Redis{client: client, prefix: prefix, markerTTL: markerTTL}, nil
}

// putScript returns 1 if the record was created and 0 if it already existed.
const putScript = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
if redis.call('SETNX', KEYS[2], 1) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('EXPIRE', KEYS[2], ttl)
end
return 1
`

const deleteScript = `
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`

// CollectionKey is the hash holding a collection.
func (r *Redis) CollectionKey(collection string) string {
	return fmt.Sprintf("%srecords:%s", r.prefix, collection)
}

// MarkerKey is the commit marker guarding one record. The collection is
// length-prefixed so no other collection and id pair maps to the same key.
func (r *Redis) MarkerKey(collection, id string) string {
	return fmt.Sprintf("%scommit:%d:%s:%s", r.prefix, len(collection), collection, id)
}

func (r *Redis) Put(ctx context.Context, rec Record) (bool, error) {
	keys := []string{r.CollectionKey(rec.Collection), r.MarkerKey(rec.Collection, rec.ID)}
	n, err := r.client.Eval(ctx, putScript, keys, rec.ID, rec.Data, int(r.markerTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("redis put %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return n == 1, nil
}

func (r *Redis) Get(ctx context.Context, collection, id string) (Record, error) {
	data, err := r.client.HGet(ctx, r.CollectionKey(collection), id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	return Record{Collection: collection, ID: id, Data: data}, nil
}

func (r *Redis) List(ctx context.Context, collection string) ([]Record, error) {
	all, err := r.client.HGetAll(ctx, r.CollectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", collection, err)
	}
	out := make([]Record, 0, len(all))
	for id, data := range all {
		out = append(out, Record{Collection: collection, ID: id, Data: []byte(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	keys := []string{r.CollectionKey(collection), r.MarkerKey(collection, id)}
	if err := r.client.Eval(ctx, deleteScript, keys, id).Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, id, err)
	}
	return nil
}
