package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
)

// priorityCeiling caps the priority accepted onto the sorted set so the
// packed score stays inside float64's exact-integer range.
const priorityCeiling = 1 << 20

// RedisQueue implements Queue on a Redis sorted set shared by all submitting
// and worker processes. The member is the job id; the score packs the
// priority above a monotonically increasing enqueue sequence, so BZPOPMAX
// yields strict priority order with FIFO tie-break and single delivery.
type RedisQueue struct {
	client *redis.Client
	key    string
	seqKey string
}

// NewRedisQueue creates a queue on the configured Redis instance.
func NewRedisQueue(cfg *config.RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{
		client: client,
		key:    cfg.QueueKey,
		seqKey: cfg.QueueKey + ":seq",
	}
}

// Ping verifies connectivity at startup.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// score packs (priority, sequence) into a sorted-set score. Higher priority
// wins; among equal priorities a smaller sequence (earlier enqueue) yields a
// larger score and is popped first by BZPOPMAX.
func score(priority int, seq int64) float64 {
	if priority > priorityCeiling {
		priority = priorityCeiling
	}
	if priority < -priorityCeiling {
		priority = -priorityCeiling
	}
	return float64(priority)*float64(1<<32) - float64(seq)
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	// The sequence counter is shared Redis state, so FIFO ordering holds
	// across concurrent enqueues from multiple submitting processes.
	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  score(priority, seq),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BZPopMax(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	id, ok := res.Member.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected member type %T", domain.ErrQueueUnavailable, res.Member)
	}
	return id, nil
}

func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.ZRem(ctx, q.key, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
