package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrEmpty is returned by Pop when no job id arrived within the poll timeout.
var ErrEmpty = errors.New("queue empty")

// DefaultPollTimeout bounds a single blocking pop.
const DefaultPollTimeout = time.Second

// RedisQueue is a first-in-first-out queue of job ids stored in a redis list.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue constructs a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: DefaultPollTimeout}
}

// Push appends a job id to the tail of the queue.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.key, jobID).Err()
}

// Pop blocks until a job id is available at the head of the queue, the poll
// timeout passes (ErrEmpty), or ctx is done.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	values, err := q.client.BLPop(ctx, q.pollTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	if len(values) != 2 {
		return "", errors.New("unexpected BLPOP reply")
	}
	return values[1], nil
}

// Len returns the number of queued job ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
