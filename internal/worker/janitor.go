package worker

import (
	"context"
	"log/slog"
	"time"
)

// runJanitor periodically recovers stalled jobs, purges expired dead
// letter entries and garbage-collects old completed jobs. One janitor per
// worker process; every operation is safe to run concurrently across
// processes because each is a single guarded statement.
func (w *Worker) runJanitor(ctx context.Context) {
	logger := w.logger.With(slog.String("component", "janitor"))

	ticker := time.NewTicker(w.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, logger)
		}
	}
}

func (w *Worker) sweep(ctx context.Context, logger *slog.Logger) {
	now := w.clock()

	requeued, err := w.broker.RequeueStalled(ctx, now.Add(-w.cfg.StallThreshold))
	if err != nil {
		logger.Error("stall recovery failed", slog.Any("error", err))
	} else if requeued > 0 {
		logger.Warn("stalled jobs requeued", slog.Int("count", requeued))
		// Stalled jobs return to waiting; wake the pools so they are
		// picked up before the next poll tick.
		for _, name := range w.registry.Names() {
			w.Wake(name)
		}
	}

	purged, err := w.broker.PurgeExpiredDeadLetters(ctx, now)
	if err != nil {
		logger.Error("dead letter purge failed", slog.Any("error", err))
	} else if purged > 0 {
		logger.Info("expired dead letters purged", slog.Int("count", purged))
	}

	collected, err := w.broker.PurgeCompleted(ctx, now.Add(-w.cfg.CompletedTTL))
	if err != nil {
		logger.Error("completed job cleanup failed", slog.Any("error", err))
	} else if collected > 0 {
		logger.Info("completed jobs cleaned up", slog.Int("count", collected))
	}
}
