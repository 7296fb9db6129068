package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ragchat/internal/config"
	"ragchat/pkg/log"
)

// NewRedis creates a client and pings it.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
