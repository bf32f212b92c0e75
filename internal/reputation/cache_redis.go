package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// RedisCache stores verdicts in Redis so the cache survives restarts
// and is shared when multiple API replicas face the same claimants.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a verdict cache on the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient connects to Redis from a REDIS_URL-style string and
// verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func cacheKey(ip string) string { return "reputation:ip:" + ip }

func (r *RedisCache) Get(ctx context.Context, ip string) (*Verdict, bool, error) {
	raw, err := r.client.Get(ctx, cacheKey(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, ip string, v *Verdict, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, cacheKey(ip), raw, ttl).Err()
}
