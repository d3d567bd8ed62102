package cache

import (
	"context"
	"errors"
	"time"

	"github.com/nexroute/backendify/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Redis wraps a *redis.Client behind the Cache contract. Concurrency is
// serialized by the client's own connection pool; a single client instance
// is shared across callers, matching "concurrency is serialized by a
// single mutex around the transport" for a backend whose own transport
// already multiplexes requests over a pool.
type Redis struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedis wraps an already-connected client. Use redisconn.New (see
// internal/redis) to obtain one with retry-on-startup semantics.
func NewRedis(client *redis.Client, log logger.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Error("cache backend get failed", logger.String("key", key), logger.Error(err))
		}
		return nil, false
	}
	return v, true
}

func (r *Redis) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.log.Error("cache backend exists failed", logger.String("key", key), logger.Error(err))
		return false
	}
	return n > 0
}

// Set issues an expiring set when ttlSeconds > 0, else a plain
// (non-expiring) set — the remote backend never falls back to a default
// TTL the way the in-memory backend does.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttlSeconds int) {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.Error("cache backend set failed", logger.String("key", key), logger.Error(err))
	}
}

func (r *Redis) Remove(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Error("cache backend remove failed", logger.String("key", key), logger.Error(err))
	}
}

func (r *Redis) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, "*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.log.Error("cache backend clear scan failed", logger.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Error("cache backend clear failed", logger.Error(err))
	}
}
