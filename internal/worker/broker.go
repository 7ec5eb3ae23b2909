package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
)

// Broker is the durable job store as seen by the execution engine. All
// mutating calls that carry a claim epoch are guarded: when the job's
// current epoch no longer matches, the broker returns queue.ErrStaleClaim
// and leaves the row untouched. The epoch increments on every claim and
// is never refunded, so a stalled-or-timed-out job that was requeued and
// reclaimed rejects late writes from its superseded claim even though the
// attempt number repeats after the refund.
type Broker interface {
	// ClaimNext atomically claims the next eligible job on the queue for
	// workerID: state moves to active, attempts_made and claim_epoch
	// increment, progress resets, the heartbeat is stamped. Returns
	// (nil, nil) when no job is eligible.
	ClaimNext(ctx context.Context, queueName, workerID string) (*queue.Job, error)

	// MarkCompleted finishes the job successfully and stores its result.
	MarkCompleted(ctx context.Context, jobID string, epoch int, result json.RawMessage) error

	// ScheduleRetry parks the job as delayed until nextEligibleAt.
	ScheduleRetry(ctx context.Context, jobID string, epoch int, nextEligibleAt time.Time, lastError string) error

	// MarkFailed moves the job to failed and writes its dead letter entry
	// in the same transaction.
	MarkFailed(ctx context.Context, jobID string, epoch int, lastError string, retention time.Duration) error

	// UpdateProgress records handler progress for the given claim.
	UpdateProgress(ctx context.Context, jobID string, epoch, pct int) error

	// Heartbeat stamps the job's liveness marker for the given claim.
	Heartbeat(ctx context.Context, jobID string, epoch int) error

	// RequeueTimedOut returns a job whose handler exceeded the queue's
	// execution ceiling to the waiting state, refunding the claimed
	// attempt. Same recovery semantics as a stall, applied by the worker
	// that still owns the claim.
	RequeueTimedOut(ctx context.Context, jobID string, epoch int) error

	// RequeueStalled returns active jobs whose heartbeat is older than
	// cutoff to the waiting state, refunding the claimed attempt. Reports
	// how many jobs were recovered.
	RequeueStalled(ctx context.Context, cutoff time.Time) (int, error)

	// PurgeExpiredDeadLetters deletes dead letter entries past their
	// expiry. Reports how many entries were removed.
	PurgeExpiredDeadLetters(ctx context.Context, now time.Time) (int, error)

	// PurgeCompleted deletes completed jobs finished before cutoff.
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error)
}
