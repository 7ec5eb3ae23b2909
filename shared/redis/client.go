package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	r "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection with a ping.
// The API service uses it for rolling-window rate limit state, which must
// be shared across replicas.
func NewClient(config *Config, logger *slog.Logger) (*r.Client, error) {
	rdb := r.NewClient(&r.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", config.Addr))
	return rdb, nil
}
