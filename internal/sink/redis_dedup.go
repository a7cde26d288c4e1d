package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialminer/crawler/internal/engine"
)

// RedisDedup wraps another sink with a cross-process dedup set held in
// Redis, so multiple crawl sessions against the same platform don't forward
// the same item twice.
type RedisDedup struct {
	rdb   *redis.Client
	inner engine.Sink
	ttl   time.Duration
}

// NewRedisDedup builds the wrapper. ttl bounds how long a key stays claimed.
func NewRedisDedup(addr string, ttl time.Duration, inner engine.Sink) (*RedisDedup, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis dedup: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{rdb: rdb, inner: inner, ttl: ttl}, nil
}

func dedupKey(item engine.NormalizedItem) string {
	return "crawl:seen:" + item.Platform + ":" + item.Key
}

// Put claims the item key; first claimant forwards to the inner sink, later
// ones report Duplicate. A failed inner Put releases the claim so the item
// can be retried.
func (r *RedisDedup) Put(ctx context.Context, item engine.NormalizedItem) (engine.PutResult, error) {
	key := dedupKey(item)
	claimed, err := r.rdb.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("claim dedup key %s: %w", key, err)
	}
	if !claimed {
		return engine.PutDuplicate, nil
	}

	res, err := r.inner.Put(ctx, item)
	if err != nil {
		// release so a retry can claim again
		r.rdb.Del(ctx, key)
		return "", err
	}
	return res, nil
}

// Close releases the Redis connection.
func (r *RedisDedup) Close() error {
	return r.rdb.Close()
}
