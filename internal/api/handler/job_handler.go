package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/trihoang/offloadq/internal/api/dto"
	"github.com/trihoang/offloadq/internal/api/storage"
	"github.com/trihoang/offloadq/internal/queue"
)

const (
	// DefaultPageSize is used when the client omits limit
	DefaultPageSize = 20
	// MaxPageSize caps the limit query parameter
	MaxPageSize = 100
)

// PrincipalContextKey is the gin context key under which the principal
// middleware stores the caller's identity.
const PrincipalContextKey = "principal_id"

func principalID(c *gin.Context) string {
	return c.GetString(PrincipalContextKey)
}

// CreateJob handles POST /api/v1/jobs. Validation and rate limiting run
// synchronously; an accepted job is durable before the response is sent.
func (h *Handler) CreateJob(c *gin.Context) {
	principal := principalID(c)
	if principal == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing principal identity"})
		return
	}

	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	cfg, ok := h.registry.Queue(req.QueueName)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "unknown queue: " + req.QueueName})
		return
	}

	if req.Options.DelayMs < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "delay_ms must not be negative"})
		return
	}

	if err := h.registry.ValidatePayload(req.QueueName, req.Payload); err != nil {
		var ve *queue.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: ve.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid payload: " + err.Error()})
		return
	}

	allowed, err := h.limiter.Allow(c.Request.Context(), req.QueueName, cfg.RateLimit, cfg.RateWindow)
	if err != nil {
		h.logger.Error("rate limit check failed",
			slog.String("queue", req.QueueName),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "rate limiter unavailable"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: queue.ErrRateLimited.Error()})
		return
	}

	now := time.Now().UTC()
	delay := time.Duration(req.Options.DelayMs) * time.Millisecond

	job := &queue.Job{
		ID:             uuid.NewString(),
		QueueName:      req.QueueName,
		OwnerID:        principal,
		Payload:        req.Payload,
		State:          queue.StateWaiting,
		MaxAttempts:    cfg.MaxAttempts,
		CreatedAt:      now,
		NextEligibleAt: now.Add(delay),
		UpdatedAt:      now,
	}
	if delay > 0 {
		job.State = queue.StateDelayed
	}

	if err := h.store.InsertJob(c.Request.Context(), job); err != nil {
		h.logger.Error("failed to insert job",
			slog.String("queue", req.QueueName),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to enqueue job"})
		return
	}

	// The nudge shortens pickup latency; the worker poll covers it if lost.
	if job.State == queue.StateWaiting {
		if err := h.publisher.PublishNudge(c.Request.Context(), job.QueueName, job.ID); err != nil {
			h.logger.Warn("failed to publish nudge",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	h.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("queue", job.QueueName),
		slog.String("state", string(job.State)),
	)
	c.JSON(http.StatusAccepted, dto.EnqueueResponse{JobID: job.ID})
}

// GetJob handles GET /api/v1/jobs/:id. Unknown IDs answer with the
// not_found state rather than an error so the endpoint does not leak
// which IDs exist. A real job owned by another principal is Forbidden.
func (h *Handler) GetJob(c *gin.Context) {
	principal := principalID(c)
	if principal == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing principal identity"})
		return
	}

	jobID := c.Param("id")

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusOK, dto.NewNotFoundJobResponse(jobID))
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get job"})
		return
	}

	if job.OwnerID != principal {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: queue.ErrForbidden.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// ListJobs handles GET /api/v1/jobs with optional queue and status filters.
func (h *Handler) ListJobs(c *gin.Context) {
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

	filter := storage.JobFilter{
		OwnerID:   principal,
		QueueName: c.Query("queue"),
		State:     queue.State(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	}

	jobs, total, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list jobs"})
		return
	}

	resp := dto.ListJobsResponse{
		Jobs:  make([]dto.JobResponse, 0, len(jobs)),
		Total: total,
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func parsePagination(c *gin.Context) (limit, offset int, err error) {
	limit = DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > MaxPageSize {
			limit = MaxPageSize
		}
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
