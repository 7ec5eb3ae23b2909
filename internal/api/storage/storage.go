package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trihoang/offloadq/internal/metrics"
	"github.com/trihoang/offloadq/internal/queue"
)

// Storage is the API-side persistence layer for jobs and dead letters.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates an API storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// JobFilter narrows ListJobs results. Zero values mean no filtering on
// that field; OwnerID is always required.
type JobFilter struct {
	OwnerID   string
	QueueName string
	State     queue.State
	Limit     int
	Offset    int
}

// InsertJob persists a new job in its initial state.
func (s *Storage) InsertJob(ctx context.Context, job *queue.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, queue_name, owner_id, payload, status,
			attempts_made, max_attempts, progress,
			created_at, next_eligible_at, updated_at
		) VALUES (
			:job_id, :queue_name, :owner_id, :payload, :status,
			:attempts_made, :max_attempts, :progress,
			:created_at, :next_eligible_at, :updated_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID regardless of owner. Callers enforce the
// ownership check so unknown and foreign IDs can share one response shape.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	var job queue.Job
	query := `SELECT * FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns one page of the owner's jobs, newest first, plus the
// total count matching the filter.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]queue.Job, int64, error) {
	where := `WHERE owner_id = $1`
	args := []any{filter.OwnerID}

	if filter.QueueName != "" {
		args = append(args, filter.QueueName)
		where += fmt.Sprintf(" AND queue_name = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM jobs ` + where
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	listQuery := fmt.Sprintf(
		`SELECT * FROM jobs %s ORDER BY created_at DESC, job_id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	jobs := []queue.Job{}
	if err := s.db.SelectContext(ctx, &jobs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// ListDeadLetters returns one page of the owner's unexpired dead letter
// entries, newest failure first, plus the total count.
func (s *Storage) ListDeadLetters(ctx context.Context, ownerID string, limit, offset int) ([]queue.DeadLetter, int64, error) {
	now := time.Now().UTC()

	var total int64
	countQuery := `SELECT COUNT(*) FROM dead_letters WHERE owner_id = $1 AND expires_at > $2`
	if err := s.db.GetContext(ctx, &total, countQuery, ownerID, now); err != nil {
		return nil, 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	listQuery := `
		SELECT * FROM dead_letters
		WHERE owner_id = $1 AND expires_at > $2
		ORDER BY failed_at DESC, entry_id DESC
		LIMIT $3 OFFSET $4`

	entries := []queue.DeadLetter{}
	if err := s.db.SelectContext(ctx, &entries, listQuery, ownerID, now, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, total, nil
}

// RetryDeadLetter re-enqueues a dead letter entry as a fresh job with a
// zeroed attempt counter and deletes the entry, atomically. Expired or
// unknown entries, and entries owned by someone else, report not found.
// maxAttemptsFor resolves the new job's attempt budget from the entry's
// queue name.
func (s *Storage) RetryDeadLetter(ctx context.Context, entryID, ownerID string, maxAttemptsFor func(queueName string) int) (*queue.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var entry queue.DeadLetter
	query := `
		SELECT * FROM dead_letters
		WHERE entry_id = $1 AND owner_id = $2 AND expires_at > $3
		FOR UPDATE`

	err = tx.GetContext(ctx, &entry, query, entryID, ownerID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}

	job := &queue.Job{
		ID:             uuid.NewString(),
		QueueName:      entry.QueueName,
		OwnerID:        entry.OwnerID,
		Payload:        entry.Payload,
		State:          queue.StateWaiting,
		AttemptsMade:   0,
		MaxAttempts:    maxAttemptsFor(entry.QueueName),
		Progress:       0,
		CreatedAt:      now,
		NextEligibleAt: now,
		UpdatedAt:      now,
	}

	insertQuery := `
		INSERT INTO jobs (
			job_id, queue_name, owner_id, payload, status,
			attempts_made, max_attempts, progress,
			created_at, next_eligible_at, updated_at
		) VALUES (
			:job_id, :queue_name, :owner_id, :payload, :status,
			:attempts_made, :max_attempts, :progress,
			:created_at, :next_eligible_at, :updated_at
		)`

	if _, err := tx.NamedExecContext(ctx, insertQuery, job); err != nil {
		return nil, fmt.Errorf("failed to insert retried job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE entry_id = $1`, entryID); err != nil {
		return nil, fmt.Errorf("failed to delete dead letter entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit retry: %w", err)
	}

	s.logger.Info("dead letter retried",
		slog.String("entry_id", entryID),
		slog.String("job_id", job.ID),
		slog.String("queue", job.QueueName),
	)
	return job, nil
}

// QueueCounts aggregates job counts by queue and state in one query.
func (s *Storage) QueueCounts(ctx context.Context) (map[string]metrics.QueueCounts, error) {
	rows := []struct {
		QueueName string `db:"queue_name"`
		Status    string `db:"status"`
		Count     int64  `db:"count"`
	}{}

	query := `SELECT queue_name, status, COUNT(*) AS count FROM jobs GROUP BY queue_name, status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate queue counts: %w", err)
	}

	counts := make(map[string]metrics.QueueCounts)
	for _, row := range rows {
		c := counts[row.QueueName]
		switch queue.State(row.Status) {
		case queue.StateWaiting:
			c.Waiting = row.Count
		case queue.StateDelayed:
			c.Delayed = row.Count
		case queue.StateActive:
			c.Active = row.Count
		case queue.StateCompleted:
			c.Completed = row.Count
		case queue.StateFailed:
			c.Failed = row.Count
		}
		counts[row.QueueName] = c
	}
	return counts, nil
}
