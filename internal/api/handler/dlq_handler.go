package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trihoang/offloadq/internal/api/dto"
	"github.com/trihoang/offloadq/internal/queue"
)

// ListDeadLetters handles GET /api/v1/dlq. Entries are scoped to the
// caller; expired entries never appear.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	principal := principalID(c)
	if principal == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing principal identity"})
		return
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	entries, total, err := h.store.ListDeadLetters(c.Request.Context(), principal, limit, offset)
	if err != nil {
		h.logger.Error("failed to list dead letters", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list dead letters"})
		return
	}

	resp := dto.ListDeadLettersResponse{
		Entries: make([]dto.DeadLetterResponse, 0, len(entries)),
		Total:   total,
	}
	for i := range entries {
		resp.Entries = append(resp.Entries, dto.NewDeadLetterResponse(&entries[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// RetryDeadLetter handles POST /api/v1/dlq/:id/retry. The entry's payload
// is re-enqueued as a fresh job with a zeroed attempt counter, and the
// entry is deleted. Missing and expired entries both answer not found.
func (h *Handler) RetryDeadLetter(c *gin.Context) {
	principal := principalID(c)
	if principal == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing principal identity"})
		return
	}

	entryID := c.Param("id")

	// The fresh job captures max attempts from the queue's current
	// configuration, resolved once storage knows the entry's queue name.
	maxAttemptsFor := func(queueName string) int {
		if cfg, ok := h.registry.Queue(queueName); ok {
			return cfg.MaxAttempts
		}
		return queue.DefaultMaxAttempts
	}

	job, err := h.store.RetryDeadLetter(c.Request.Context(), entryID, principal, maxAttemptsFor)
	if errors.Is(err, queue.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: queue.ErrEntryNotFound.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to retry dead letter",
			slog.String("entry_id", entryID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to retry dead letter entry"})
		return
	}

	if err := h.publisher.PublishNudge(c.Request.Context(), job.QueueName, job.ID); err != nil {
		h.logger.Warn("failed to publish nudge",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	h.logger.Info("dead letter re-enqueued",
		slog.String("entry_id", entryID),
		slog.String("job_id", job.ID),
	)
	c.JSON(http.StatusOK, dto.EnqueueResponse{JobID: job.ID})
}
