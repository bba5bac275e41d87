package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/belphemur/calendar-source/internal/logging"
)

// NewRedisClient connects to the redis server in redisURL
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}

	logger := logging.GetLogger("redis")
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis client created successfully")
	return client, nil
}
