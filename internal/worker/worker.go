package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trihoang/offloadq/internal/config"
	"github.com/trihoang/offloadq/internal/queue"
)

// Worker runs per-queue pools of executor goroutines over a Broker.
// Postgres holds the authoritative job state; executors wake on nudges
// when available and otherwise fall back to a bounded poll ticker, which
// also covers delayed jobs becoming eligible.
type Worker struct {
	id       string
	broker   Broker
	registry *queue.Registry
	cfg      config.WorkerConfig
	logger   *slog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	wakes  map[string]chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker over the registered queues.
func New(broker Broker, registry *queue.Registry, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	id := "worker-" + uuid.NewString()[:8]

	wakes := make(map[string]chan struct{})
	for _, name := range registry.Names() {
		wakes[name] = make(chan struct{}, 1)
	}

	return &Worker{
		id:       id,
		broker:   broker,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(slog.String("worker_id", id)),
		clock:    time.Now,
		wakes:    wakes,
	}
}

// ID returns the worker's instance identifier.
func (w *Worker) ID() string {
	return w.id
}

// Start launches the executor pools and the janitor. It returns once all
// goroutines are running; Stop shuts them down.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("worker already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for _, cfg := range w.registry.Configs() {
		if _, ok := w.registry.Handler(cfg.Name); !ok {
			w.logger.Warn("no handler registered, queue will not be served",
				slog.String("queue", cfg.Name))
			continue
		}

		for i := 0; i < cfg.Concurrency; i++ {
			w.wg.Add(1)
			go func(cfg queue.Config, slot int) {
				defer w.wg.Done()
				w.runExecutor(runCtx, cfg, slot)
			}(cfg, i)
		}

		w.logger.Info("queue pool started",
			slog.String("queue", cfg.Name),
			slog.Int("concurrency", cfg.Concurrency),
		)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runJanitor(runCtx)
	}()

	return nil
}

// Stop cancels all executor goroutines and waits for in-flight jobs to
// finish, up to the configured shutdown timeout.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-time.After(w.cfg.ShutdownTimeout):
		// The waiter goroutine stays behind until the last in-flight
		// handler returns, then exits on its own; it holds nothing but
		// the done channel, so the late close is harmless.
		return fmt.Errorf("shutdown timed out after %s", w.cfg.ShutdownTimeout)
	}
}

// Wake signals one queue's executors that a job may be eligible. Safe to
// call from any goroutine; a full wake channel means a signal is already
// pending and the call is a no-op.
func (w *Worker) Wake(queueName string) {
	ch, ok := w.wakes[queueName]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// runExecutor drains the queue, then sleeps until a nudge or the next poll
// tick. After every processed job it tries to claim again immediately, so
// a backlog is worked off without waiting on timers.
func (w *Worker) runExecutor(ctx context.Context, cfg queue.Config, slot int) {
	logger := w.logger.With(
		slog.String("queue", cfg.Name),
		slog.Int("slot", slot),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	wake := w.wakes[cfg.Name]

	for {
		claimed, err := w.claimAndProcess(ctx, cfg, logger)
		if err != nil {
			logger.Error("claim failed", slog.Any("error", err))
		}
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (w *Worker) claimAndProcess(ctx context.Context, cfg queue.Config, logger *slog.Logger) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := w.broker.ClaimNext(ctx, cfg.Name, w.id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, job, cfg, logger)
	return true, nil
}
