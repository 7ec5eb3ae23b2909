package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trihoang/offloadq/internal/api/dto"
	"github.com/trihoang/offloadq/internal/metrics"
)

// Metrics handles GET /metrics with Prometheus text exposition output.
// Counts are aggregates only, so there is no ownership filter; the
// endpoint is expected to be shielded at the network layer.
func (h *Handler) Metrics(c *gin.Context) {
	snap, err := h.snapshot(c)
	if err != nil {
		h.logger.Error("failed to build metrics snapshot", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to collect metrics"})
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8",
		[]byte(metrics.RenderPrometheus(snap)))
}

// Stats handles GET /api/v1/stats with a JSON snapshot of queue depths.
func (h *Handler) Stats(c *gin.Context) {
	snap, err := h.snapshot(c)
	if err != nil {
		h.logger.Error("failed to build stats snapshot", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) snapshot(c *gin.Context) (metrics.Snapshot, error) {
	counts, err := h.store.QueueCounts(c.Request.Context())
	if err != nil {
		return metrics.Snapshot{}, err
	}

	// Configured queues always appear, even with zero jobs.
	for _, name := range h.registry.Names() {
		if _, ok := counts[name]; !ok {
			counts[name] = metrics.QueueCounts{}
		}
	}

	return metrics.Snapshot{
		Timestamp: time.Now().UTC(),
		Queues:    counts,
	}, nil
}
