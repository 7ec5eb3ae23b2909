package queue

import (
	"encoding/json"
	"time"
)

// DefaultMaxAttempts is the attempt budget used when a queue has no
// explicit configuration, such as retrying a dead letter whose queue was
// removed from the config.
const DefaultMaxAttempts = 3

// State is the lifecycle state of a job. A job is in exactly one state
// at any instant; transitions happen only through atomic broker updates.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the unit of work moving through the queue.
//
// AttemptsMade is incremented when a worker claims the job. Stall and
// timeout requeues refund that increment, so the counter only reflects
// attempts that actually ran to a success or a failure.
//
// ClaimEpoch increments on every claim and is never refunded. Broker
// updates are guarded on it rather than on AttemptsMade, which can repeat
// after a refund: a requeued-and-reclaimed job reuses an attempt number
// but never an epoch, so late writes from the superseded claim cannot
// land on the new one.
type Job struct {
	ID              string          `db:"job_id"`
	QueueName       string          `db:"queue_name"`
	OwnerID         string          `db:"owner_id"`
	Payload         json.RawMessage `db:"payload"`
	State           State           `db:"status"`
	AttemptsMade    int             `db:"attempts_made"`
	MaxAttempts     int             `db:"max_attempts"`
	Progress        int             `db:"progress"`
	ClaimEpoch      int             `db:"claim_epoch"`
	WorkerID        string          `db:"worker_id"`
	Result          json.RawMessage `db:"result"`
	LastError       string          `db:"last_error"`
	CreatedAt       time.Time       `db:"created_at"`
	NextEligibleAt  time.Time       `db:"next_eligible_at"`
	LastHeartbeatAt *time.Time      `db:"last_heartbeat_at"`
	ProcessedAt     *time.Time      `db:"processed_at"`
	FinishedAt      *time.Time      `db:"finished_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// DeadLetter is the immutable snapshot of a terminally failed job.
// Entries expire after the retention window and are then unreachable.
type DeadLetter struct {
	EntryID      string          `db:"entry_id"`
	JobID        string          `db:"job_id"`
	QueueName    string          `db:"queue_name"`
	OwnerID      string          `db:"owner_id"`
	Payload      json.RawMessage `db:"payload"`
	LastError    string          `db:"last_error"`
	AttemptsMade int             `db:"attempts_made"`
	FailedAt     time.Time       `db:"failed_at"`
	ExpiresAt    time.Time       `db:"expires_at"`
}

// Config is the static per-queue configuration. It is fixed at startup;
// jobs capture MaxAttempts at enqueue time.
type Config struct {
	Name              string
	Concurrency       int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	RateLimit         int
	RateWindow        time.Duration
	JobTimeout        time.Duration
}
