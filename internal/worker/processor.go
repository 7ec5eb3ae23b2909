package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
)

// process runs one claimed job to an outcome for this claim: completed,
// delayed (retry scheduled), failed (dead-lettered), or waiting again when
// the execution ceiling was hit.
func (w *Worker) process(ctx context.Context, job *queue.Job, cfg queue.Config, logger *slog.Logger) {
	epoch := job.ClaimEpoch
	logger = logger.With(
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.AttemptsMade),
	)
	logger.Info("job claimed")

	handler, ok := w.registry.Handler(job.QueueName)
	if !ok {
		// Start refuses to serve queues without handlers, so this only
		// happens when registration changes mid-flight.
		w.settle(ctx, job, cfg, epoch, nil, queue.Fatal(fmt.Errorf("no handler registered for queue %q", job.QueueName)), logger)
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, job.ID, epoch, logger)
	defer stopHeartbeat()

	execCtx := ctx
	var cancel context.CancelFunc
	if cfg.JobTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
	}

	result, err := handler(execCtx, job.Payload, w.progressFunc(ctx, job.ID, epoch, logger))
	stopHeartbeat()

	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// Hitting the per-job execution ceiling is recovered like a
		// stall: the job goes back to waiting with the claimed attempt
		// refunded. Only failures the handler itself raises consume an
		// attempt; a handler that finished in time keeps its outcome.
		if bErr := w.broker.RequeueTimedOut(ctx, job.ID, epoch); bErr != nil {
			w.logSettleError(logger, "timeout requeue", bErr)
			return
		}
		logger.Warn("job exceeded execution ceiling, requeued",
			slog.Duration("job_timeout", cfg.JobTimeout))
		w.Wake(job.QueueName)
		return
	}

	w.settle(ctx, job, cfg, epoch, result, err, logger)
}

// settle applies the attempt's outcome to the broker.
func (w *Worker) settle(ctx context.Context, job *queue.Job, cfg queue.Config, epoch int, result []byte, err error, logger *slog.Logger) {
	switch {
	case err == nil:
		if bErr := w.broker.MarkCompleted(ctx, job.ID, epoch, result); bErr != nil {
			w.logSettleError(logger, "complete", bErr)
			return
		}
		logger.Info("job completed")

	case queue.IsFatal(err) || job.AttemptsMade >= job.MaxAttempts:
		if bErr := w.broker.MarkFailed(ctx, job.ID, epoch, err.Error(), w.cfg.DLQRetention); bErr != nil {
			w.logSettleError(logger, "fail", bErr)
			return
		}
		logger.Error("job failed permanently",
			slog.String("error", err.Error()),
			slog.Bool("fatal", queue.IsFatal(err)),
			slog.Int("max_attempts", job.MaxAttempts),
		)

	default:
		delay := queue.NextDelay(cfg, job.AttemptsMade)
		nextEligibleAt := w.clock().Add(delay)
		if bErr := w.broker.ScheduleRetry(ctx, job.ID, epoch, nextEligibleAt, err.Error()); bErr != nil {
			w.logSettleError(logger, "retry", bErr)
			return
		}
		logger.Warn("job attempt failed, retry scheduled",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
	}
}

func (w *Worker) logSettleError(logger *slog.Logger, action string, err error) {
	if errors.Is(err, queue.ErrStaleClaim) {
		// The janitor requeued this job while we were finishing it. The
		// new claim owns the row now; our outcome is discarded.
		logger.Warn("claim superseded, outcome discarded", slog.String("action", action))
		return
	}
	logger.Error("failed to settle job", slog.String("action", action), slog.Any("error", err))
}

// startHeartbeat stamps the job's liveness marker on a fixed interval
// until the returned stop function is called. Heartbeats are independent
// of progress reports: a slow handler that reports nothing still beats.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string, epoch int, logger *slog.Logger) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.broker.Heartbeat(ctx, jobID, epoch); err != nil && !errors.Is(err, queue.ErrStaleClaim) {
					logger.Warn("heartbeat failed", slog.Any("error", err))
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// progressFunc builds the reporter handed to the handler. Values are
// clamped to 0-100 and kept monotone within the claim; the broker's epoch
// guard drops reports from superseded claims.
func (w *Worker) progressFunc(ctx context.Context, jobID string, epoch int, logger *slog.Logger) queue.ProgressFunc {
	var mu sync.Mutex
	last := 0

	return func(pct int) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}

		mu.Lock()
		if pct <= last {
			mu.Unlock()
			return
		}
		last = pct
		mu.Unlock()

		if err := w.broker.UpdateProgress(ctx, jobID, epoch, pct); err != nil && !errors.Is(err, queue.ErrStaleClaim) {
			logger.Warn("progress update failed", slog.Any("error", err))
		}
	}
}
