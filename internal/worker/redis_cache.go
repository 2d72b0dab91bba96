package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps partitions in redis: a sorted set of partition names
// scored by creation time, and one hash per partition keyed by request.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStorage(rdb *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "story-service"
	}
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (r *RedisStorage) namesKey() string {
	return r.prefix + ":caches"
}

func (r *RedisStorage) cacheKey(name string) string {
	return r.prefix + ":cache:" + name
}

func (r *RedisStorage) Open(ctx context.Context, name string) (Cache, error) {
	err := r.rdb.ZAddNX(ctx, r.namesKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: name}).Err()
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &redisCache{rdb: r.rdb, key: r.cacheKey(name)}, nil
}

func (r *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := r.rdb.ZRange(ctx, r.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return names, nil
}

func (r *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	removed, err := r.rdb.ZRem(ctx, r.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := r.rdb.Del(ctx, r.cacheKey(name)).Err(); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return removed > 0, nil
}

func (r *RedisStorage) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	names, err := r.Keys(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		c := &redisCache{rdb: r.rdb, key: r.cacheKey(name)}
		resp, ok, err := c.Match(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

type redisCache struct {
	rdb *redis.Client
	key string
}

func (c *redisCache) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	raw, err := c.rdb.HGet(ctx, c.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache match: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &resp, true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, resp *CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.HSet(ctx, c.key, key, raw).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.rdb.HKeys(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	return keys, nil
}
