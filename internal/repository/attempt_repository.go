package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 统计后台重试任务的投递次数。
type AttemptRepository interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type redisAttemptRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAttemptRepository 创建基于 Redis 的计数器，计数一天后过期。
func NewAttemptRepository(rdb *redis.Client) AttemptRepository {
	return &redisAttemptRepository{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptsKey(key string) string {
	return "kafka:attempts:" + key
}

func (r *redisAttemptRepository) Incr(ctx context.Context, key string) (int64, error) {
	k := attemptsKey(key)
	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("incr attempts: %w", err)
	}
	_ = r.rdb.Expire(ctx, k, r.ttl).Err()
	return n, nil
}

func (r *redisAttemptRepository) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, attemptsKey(key)).Err()
}
