package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

// DefaultRedisKey is the list that holds pending task ids.
const DefaultRedisKey = "splitagg:tasks"

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisQueue keeps pending task ids in a Redis list. Producers LPUSH and
// consumers BRPOP, so ids come out in submission order and survive worker
// restarts.
type RedisQueue struct {
	rdb *goredis.Client
	key string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, opts RedisOptions) (*RedisQueue, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("queue: missing redis address")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperrors.NewQueueError(apperrors.CodeEnqueueFailed, "redis ping", err)
	}

	return NewRedisQueueWithClient(rdb, opts.Key), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(rdb *goredis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

// Key returns the list name.
func (q *RedisQueue) Key() string {
	return q.key
}

// Enqueue pushes taskID onto the list.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	if err := q.rdb.LPush(ctx, q.key, taskID).Err(); err != nil {
		return apperrors.NewQueueError(apperrors.CodeEnqueueFailed, "enqueue "+taskID, err)
	}
	return nil
}

// Dequeue blocks on BRPOP for up to timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout < 0 {
		timeout = 0
	}
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrEmpty
	}
	if errors.Is(err, goredis.ErrClosed) {
		return "", ErrClosed
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("queue: brpop %s: %w", q.key, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("queue: unexpected brpop reply %v", res)
	}
	return res[1], nil
}

// Len returns the number of pending ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Close closes the client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
