package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const jobStatusKeyPrefix = "crop_job:"

// Cache is the key/value store behind job status lookups.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache keeps job status snapshots in Redis. Any redis.Cmdable works, so a
// ring or cluster client can be used as well as a single node.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache constructs a Redis-backed job status cache.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Set stores value under key until expiration passes.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get returns the value under key. A miss returns redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// JobStatusKey is the cache key of a job's status snapshot.
func JobStatusKey(jobID string) string {
	return jobStatusKeyPrefix + jobID
}
