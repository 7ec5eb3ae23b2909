package dto

import (
	"encoding/json"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
)

// EnqueueOptions holds optional per-job settings supplied at enqueue time.
type EnqueueOptions struct {
	DelayMs int64 `json:"delay_ms"`
}

// EnqueueRequest is the body for POST /api/v1/jobs.
type EnqueueRequest struct {
	QueueName string          `json:"queue_name" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
	Options   EnqueueOptions  `json:"options"`
}

// EnqueueResponse acknowledges an accepted job.
type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse is the external view of a job. State carries "not_found" for
// unknown or foreign job IDs so the endpoint never reveals whether an ID
// exists outside the caller's scope.
type JobResponse struct {
	JobID          string          `json:"job_id"`
	QueueName      string          `json:"queue_name,omitempty"`
	State          string          `json:"state"`
	Progress       int             `json:"progress"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	NextEligibleAt *time.Time      `json:"next_eligible_at,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// ListJobsResponse is a page of jobs plus the total count matching the
// filter, so clients can paginate without a second request.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int64         `json:"total"`
}

// DeadLetterResponse is the external view of a dead letter entry.
type DeadLetterResponse struct {
	EntryID      string          `json:"entry_id"`
	JobID        string          `json:"job_id"`
	QueueName    string          `json:"queue_name"`
	Payload      json.RawMessage `json:"payload"`
	LastError    string          `json:"last_error"`
	AttemptsMade int             `json:"attempts_made"`
	FailedAt     time.Time       `json:"failed_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// ListDeadLettersResponse is a page of dead letter entries.
type ListDeadLettersResponse struct {
	Entries []DeadLetterResponse `json:"entries"`
	Total   int64                `json:"total"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewJobResponse converts a job into its external representation.
func NewJobResponse(j *queue.Job) JobResponse {
	resp := JobResponse{
		JobID:        j.ID,
		QueueName:    j.QueueName,
		State:        string(j.State),
		Progress:     j.Progress,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Result:       j.Result,
		LastError:    j.LastError,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
	}
	if !j.CreatedAt.IsZero() {
		createdAt := j.CreatedAt
		resp.CreatedAt = &createdAt
	}
	if !j.NextEligibleAt.IsZero() {
		nextEligibleAt := j.NextEligibleAt
		resp.NextEligibleAt = &nextEligibleAt
	}
	return resp
}

// NewNotFoundJobResponse builds the masked response for unknown jobs.
func NewNotFoundJobResponse(jobID string) JobResponse {
	return JobResponse{JobID: jobID, State: "not_found"}
}

// NewDeadLetterResponse converts a dead letter entry into its external
// representation.
func NewDeadLetterResponse(d *queue.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		EntryID:      d.EntryID,
		JobID:        d.JobID,
		QueueName:    d.QueueName,
		Payload:      d.Payload,
		LastError:    d.LastError,
		AttemptsMade: d.AttemptsMade,
		FailedAt:     d.FailedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}
