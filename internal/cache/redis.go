// Package cache provides a Redis-backed day cache, an alternative to the
// SQLite day_cache table when several processes share one cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sadopc/platelog/internal/model"
)

const keyPrefix = "platelog:day:"

// RedisCache stores one JSON document per (user, date). Redis expires keys
// after the TTL; validity is still decided by the reader from LastUpdated.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

type document struct {
	Date        model.Date      `json:"date"`
	Payload     *model.DailyLog `json:"payload"`
	LastUpdated time.Time       `json:"last_updated"`
}

// NewRedisCache connects using a redis:// URL.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCacheFromClient(rdb, ttl), nil
}

func NewRedisCacheFromClient(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = model.DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func redisKey(key model.CacheKey) string {
	return keyPrefix + key.UserID + ":" + string(key.Date)
}

func (c *RedisCache) GetDay(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	data, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached day %s: %w", key, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cached day %s: %w", key, model.ErrCorruptCacheEntry)
	}
	return &model.CacheEntry{Date: key.Date, Payload: doc.Payload, LastUpdated: doc.LastUpdated}, nil
}

func (c *RedisCache) SetDay(ctx context.Context, key model.CacheKey, entry *model.CacheEntry) error {
	data, err := json.Marshal(document{Date: key.Date, Payload: entry.Payload, LastUpdated: entry.LastUpdated})
	if err != nil {
		return fmt.Errorf("marshal cached day %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached day %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) DeleteDay(ctx context.Context, key model.CacheKey) error {
	if err := c.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete cached day %s: %w", key, err)
	}
	return nil
}

// DeleteUser drops every cached day of userID.
func (c *RedisCache) DeleteUser(ctx context.Context, userID string) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+userID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached days for %s: %w", userID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cached days for %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires keys itself.
func (c *RedisCache) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
