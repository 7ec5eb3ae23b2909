package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/trihoang/offloadq/internal/api/storage"
	"github.com/trihoang/offloadq/internal/metrics"
	"github.com/trihoang/offloadq/internal/queue"
)

// JobStore is the persistence surface the handlers need.
type JobStore interface {
	InsertJob(ctx context.Context, job *queue.Job) error
	GetJob(ctx context.Context, jobID string) (*queue.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]queue.Job, int64, error)
	ListDeadLetters(ctx context.Context, ownerID string, limit, offset int) ([]queue.DeadLetter, int64, error)
	RetryDeadLetter(ctx context.Context, entryID, ownerID string, maxAttemptsFor func(queueName string) int) (*queue.Job, error)
	QueueCounts(ctx context.Context) (map[string]metrics.QueueCounts, error)
}

// NudgePublisher wakes workers after an enqueue. Publishing is best
// effort; the poll ticker covers lost nudges.
type NudgePublisher interface {
	PublishNudge(ctx context.Context, queueName, jobID string) error
}

// RateLimiter gates enqueue throughput per queue.
type RateLimiter interface {
	Allow(ctx context.Context, queueName string, limit int, window time.Duration) (bool, error)
}

// Handler holds the dependencies shared by all API handlers.
type Handler struct {
	store     JobStore
	publisher NudgePublisher
	limiter   RateLimiter
	registry  *queue.Registry
	logger    *slog.Logger
}

// NewHandler creates an API handler.
func NewHandler(store JobStore, publisher NudgePublisher, limiter RateLimiter, registry *queue.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		registry:  registry,
		logger:    logger,
	}
}
