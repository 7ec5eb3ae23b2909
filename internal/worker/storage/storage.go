package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trihoang/offloadq/internal/queue"
)

// Storage implements the execution engine's Broker over PostgreSQL.
//
// Claims and epoch-guarded updates are single atomic statements, so any
// number of worker processes can share one database without coordination:
// losing a claim race or writing with a stale claim epoch is a clean
// no-op. The epoch increments on every claim and is never decremented;
// attempts_made is refunded by stall and timeout requeues, so it can
// repeat and must not be used as a guard.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a worker storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// ClaimNext claims the oldest eligible job on the queue. SKIP LOCKED makes
// concurrent claimers pass over rows another transaction is taking, so at
// most one worker wins each job.
func (s *Storage) ClaimNext(ctx context.Context, queueName, workerID string) (*queue.Job, error) {
	query := `
		UPDATE jobs SET
			status = 'active',
			attempts_made = attempts_made + 1,
			claim_epoch = claim_epoch + 1,
			progress = 0,
			worker_id = $1,
			last_heartbeat_at = NOW(),
			processed_at = NOW(),
			updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE queue_name = $2
			  AND status IN ('waiting', 'delayed')
			  AND next_eligible_at <= NOW()
			ORDER BY next_eligible_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`

	var job queue.Job
	err := s.db.GetContext(ctx, &job, query, workerID, queueName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// MarkCompleted finishes the job and stores its result. Guarded by the
// claim epoch and the active state.
func (s *Storage) MarkCompleted(ctx context.Context, jobID string, epoch int, result json.RawMessage) error {
	query := `
		UPDATE jobs SET
			status = 'completed',
			progress = 100,
			result = $3,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active'`

	return s.guardedExec(ctx, query, jobID, epoch, nullableJSON(result))
}

// ScheduleRetry parks the job as delayed until nextEligibleAt.
func (s *Storage) ScheduleRetry(ctx context.Context, jobID string, epoch int, nextEligibleAt time.Time, lastError string) error {
	query := `
		UPDATE jobs SET
			status = 'delayed',
			next_eligible_at = $3,
			last_error = $4,
			worker_id = '',
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active'`

	return s.guardedExec(ctx, query, jobID, epoch, nextEligibleAt, lastError)
}

// MarkFailed moves the job to failed and writes its dead letter entry in
// one transaction.
func (s *Storage) MarkFailed(ctx context.Context, jobID string, epoch int, lastError string, retention time.Duration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job queue.Job
	failQuery := `
		UPDATE jobs SET
			status = 'failed',
			last_error = $3,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active'
		RETURNING *`

	err = tx.GetContext(ctx, &job, failQuery, jobID, epoch, lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrStaleClaim
	}
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	entry := queue.DeadLetter{
		EntryID:      uuid.NewString(),
		JobID:        job.ID,
		QueueName:    job.QueueName,
		OwnerID:      job.OwnerID,
		Payload:      job.Payload,
		LastError:    lastError,
		AttemptsMade: job.AttemptsMade,
		FailedAt:     time.Now().UTC(),
	}
	entry.ExpiresAt = entry.FailedAt.Add(retention)

	insertQuery := `
		INSERT INTO dead_letters (
			entry_id, job_id, queue_name, owner_id, payload,
			last_error, attempts_made, failed_at, expires_at
		) VALUES (
			:entry_id, :job_id, :queue_name, :owner_id, :payload,
			:last_error, :attempts_made, :failed_at, :expires_at
		)`

	if _, err := tx.NamedExecContext(ctx, insertQuery, entry); err != nil {
		return fmt.Errorf("failed to insert dead letter entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead letter: %w", err)
	}

	s.logger.Info("job dead lettered",
		slog.String("job_id", jobID),
		slog.String("entry_id", entry.EntryID),
		slog.Int("attempts_made", job.AttemptsMade),
	)
	return nil
}

// UpdateProgress records handler progress. The progress > check keeps
// reports monotone within a claim even if two land out of order.
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, epoch, pct int) error {
	query := `
		UPDATE jobs SET
			progress = $3,
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active' AND progress < $3`

	return s.guardedExec(ctx, query, jobID, epoch, pct)
}

// Heartbeat stamps the job's liveness marker.
func (s *Storage) Heartbeat(ctx context.Context, jobID string, epoch int) error {
	query := `
		UPDATE jobs SET
			last_heartbeat_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active'`

	return s.guardedExec(ctx, query, jobID, epoch)
}

// RequeueTimedOut returns a job whose handler exceeded the execution
// ceiling to the waiting state, refunding the claimed attempt. The epoch
// stays, so anything still running under this claim is fenced out.
func (s *Storage) RequeueTimedOut(ctx context.Context, jobID string, epoch int) error {
	query := `
		UPDATE jobs SET
			status = 'waiting',
			attempts_made = GREATEST(attempts_made - 1, 0),
			progress = 0,
			worker_id = '',
			last_heartbeat_at = NULL,
			next_eligible_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $1 AND claim_epoch = $2 AND status = 'active'`

	return s.guardedExec(ctx, query, jobID, epoch)
}

// RequeueStalled recovers active jobs whose heartbeat is older than
// cutoff. The claimed attempt is refunded so a crashed worker never
// consumes the job's attempt budget; the epoch is not, so late writes
// from the presumed-dead claim stay fenced out.
func (s *Storage) RequeueStalled(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE jobs SET
			status = 'waiting',
			attempts_made = GREATEST(attempts_made - 1, 0),
			progress = 0,
			worker_id = '',
			last_heartbeat_at = NULL,
			next_eligible_at = NOW(),
			updated_at = NOW()
		WHERE status = 'active' AND last_heartbeat_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued jobs: %w", err)
	}
	return int(n), nil
}

// PurgeExpiredDeadLetters deletes entries past their retention expiry.
func (s *Storage) PurgeExpiredDeadLetters(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged dead letters: %w", err)
	}
	return int(n), nil
}

// PurgeCompleted deletes completed jobs finished before cutoff.
func (s *Storage) PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = 'completed' AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged jobs: %w", err)
	}
	return int(n), nil
}

// guardedExec runs an epoch-guarded update; zero rows means the claim was
// superseded.
func (s *Storage) guardedExec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return queue.ErrStaleClaim
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
