package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter enforces per-queue enqueue limits with a rolling window kept in
// a Redis sorted set. State lives in Redis so every API replica sees the
// same window.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter creates a rolling-window rate limiter backed by Redis.
func NewLimiter(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Limiter) key(queueName string) string {
	return "ratelimit:" + queueName
}

// Allow records an enqueue attempt against the queue's rolling window and
// reports whether it fits under limit. The attempt is counted before the
// check; when the window is already full the attempt's own member is
// removed again so rejected requests do not consume capacity.
func (l *Limiter) Allow(ctx context.Context, queueName string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	key := l.key(queueName)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	windowStart := now.Add(-window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if card.Val() > int64(limit) {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			l.logger.Warn("failed to remove rejected rate limit member",
				slog.String("queue", queueName),
				slog.Any("error", err),
			)
		}
		l.logger.Debug("enqueue rate limited",
			slog.String("queue", queueName),
			slog.Int64("window_count", card.Val()),
			slog.Int("limit", limit),
		)
		return false, nil
	}

	return true, nil
}
