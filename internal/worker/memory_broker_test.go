package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
)

// memoryBroker is an in-memory Broker with the same claim-epoch guard
// semantics as the Postgres implementation. The clock is injectable so
// tests can step through backoff and retention windows deterministically.
type memoryBroker struct {
	mu          sync.Mutex
	jobs        map[string]*queue.Job
	deadLetters map[string]*queue.DeadLetter
	clock       func() time.Time
}

func newMemoryBroker(clock func() time.Time) *memoryBroker {
	return &memoryBroker{
		jobs:        make(map[string]*queue.Job),
		deadLetters: make(map[string]*queue.DeadLetter),
		clock:       clock,
	}
}

func (m *memoryBroker) addJob(job *queue.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
}

func (m *memoryBroker) job(jobID string) queue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[jobID]
}

func (m *memoryBroker) deadLetterFor(jobID string) (queue.DeadLetter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.deadLetters {
		if entry.JobID == jobID {
			return *entry, true
		}
	}
	return queue.DeadLetter{}, false
}

func (m *memoryBroker) ClaimNext(_ context.Context, queueName, workerID string) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var candidate *queue.Job
	for _, id := range ids {
		job := m.jobs[id]
		if job.QueueName != queueName {
			continue
		}
		if job.State != queue.StateWaiting && job.State != queue.StateDelayed {
			continue
		}
		if job.NextEligibleAt.After(now) {
			continue
		}
		if candidate == nil || job.NextEligibleAt.Before(candidate.NextEligibleAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.State = queue.StateActive
	candidate.AttemptsMade++
	candidate.ClaimEpoch++
	candidate.Progress = 0
	candidate.WorkerID = workerID
	hb := now
	candidate.LastHeartbeatAt = &hb
	processed := now
	candidate.ProcessedAt = &processed
	candidate.UpdatedAt = now

	copied := *candidate
	return &copied, nil
}

func (m *memoryBroker) guarded(jobID string, epoch int) (*queue.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	if job.ClaimEpoch != epoch || job.State != queue.StateActive {
		return nil, queue.ErrStaleClaim
	}
	return job, nil
}

func (m *memoryBroker) MarkCompleted(_ context.Context, jobID string, epoch int, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}
	job.State = queue.StateCompleted
	job.Progress = 100
	job.Result = result
	finished := m.clock()
	job.FinishedAt = &finished
	job.UpdatedAt = finished
	return nil
}

func (m *memoryBroker) ScheduleRetry(_ context.Context, jobID string, epoch int, nextEligibleAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}
	job.State = queue.StateDelayed
	job.NextEligibleAt = nextEligibleAt
	job.LastError = lastError
	job.WorkerID = ""
	job.UpdatedAt = m.clock()
	return nil
}

func (m *memoryBroker) MarkFailed(_ context.Context, jobID string, epoch int, lastError string, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}

	now := m.clock()
	job.State = queue.StateFailed
	job.LastError = lastError
	job.FinishedAt = &now
	job.UpdatedAt = now

	entryID := fmt.Sprintf("entry-%d", len(m.deadLetters)+1)
	m.deadLetters[entryID] = &queue.DeadLetter{
		EntryID:      entryID,
		JobID:        job.ID,
		QueueName:    job.QueueName,
		OwnerID:      job.OwnerID,
		Payload:      job.Payload,
		LastError:    lastError,
		AttemptsMade: job.AttemptsMade,
		FailedAt:     now,
		ExpiresAt:    now.Add(retention),
	}
	return nil
}

func (m *memoryBroker) UpdateProgress(_ context.Context, jobID string, epoch, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}
	if pct <= job.Progress {
		return queue.ErrStaleClaim
	}
	job.Progress = pct
	job.UpdatedAt = m.clock()
	return nil
}

func (m *memoryBroker) Heartbeat(_ context.Context, jobID string, epoch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}
	now := m.clock()
	job.LastHeartbeatAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memoryBroker) RequeueTimedOut(_ context.Context, jobID string, epoch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.guarded(jobID, epoch)
	if err != nil {
		return err
	}
	job.State = queue.StateWaiting
	if job.AttemptsMade > 0 {
		job.AttemptsMade--
	}
	job.Progress = 0
	job.WorkerID = ""
	job.LastHeartbeatAt = nil
	job.NextEligibleAt = m.clock()
	job.UpdatedAt = m.clock()
	return nil
}

func (m *memoryBroker) RequeueStalled(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, job := range m.jobs {
		if job.State != queue.StateActive {
			continue
		}
		if job.LastHeartbeatAt == nil || !job.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		job.State = queue.StateWaiting
		if job.AttemptsMade > 0 {
			job.AttemptsMade--
		}
		job.Progress = 0
		job.WorkerID = ""
		job.LastHeartbeatAt = nil
		job.NextEligibleAt = m.clock()
		job.UpdatedAt = m.clock()
		count++
	}
	return count, nil
}

func (m *memoryBroker) PurgeExpiredDeadLetters(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, entry := range m.deadLetters {
		if !entry.ExpiresAt.After(now) {
			delete(m.deadLetters, id)
			count++
		}
	}
	return count, nil
}

func (m *memoryBroker) PurgeCompleted(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, job := range m.jobs {
		if job.State == queue.StateCompleted && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			count++
		}
	}
	return count, nil
}
