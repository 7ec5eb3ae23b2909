package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/trihoang/offloadq/internal/api/storage"
	"github.com/trihoang/offloadq/internal/metrics"
	"github.com/trihoang/offloadq/internal/queue"
	"github.com/trihoang/offloadq/shared/logger"
)

type fakeStore struct {
	jobs        map[string]*queue.Job
	deadLetters map[string]*queue.DeadLetter
	insertErr   error
	inserted    []*queue.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:        make(map[string]*queue.Job),
		deadLetters: make(map[string]*queue.DeadLetter),
	}
}

func (f *fakeStore) InsertJob(_ context.Context, job *queue.Job) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.jobs[job.ID] = job
	f.inserted = append(f.inserted, job)
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (*queue.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]queue.Job, int64, error) {
	matched := []queue.Job{}
	for _, job := range f.jobs {
		if job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.QueueName != "" && job.QueueName != filter.QueueName {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		matched = append(matched, *job)
	}

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []queue.Job{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeStore) ListDeadLetters(_ context.Context, ownerID string, limit, offset int) ([]queue.DeadLetter, int64, error) {
	now := time.Now()
	matched := []queue.DeadLetter{}
	for _, entry := range f.deadLetters {
		if entry.OwnerID == ownerID && entry.ExpiresAt.After(now) {
			matched = append(matched, *entry)
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return []queue.DeadLetter{}, total, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (f *fakeStore) RetryDeadLetter(_ context.Context, entryID, ownerID string, maxAttemptsFor func(string) int) (*queue.Job, error) {
	entry, ok := f.deadLetters[entryID]
	if !ok || entry.OwnerID != ownerID || !entry.ExpiresAt.After(time.Now()) {
		return nil, queue.ErrEntryNotFound
	}

	job := &queue.Job{
		ID:          "retried-" + entry.JobID,
		QueueName:   entry.QueueName,
		OwnerID:     entry.OwnerID,
		Payload:     entry.Payload,
		State:       queue.StateWaiting,
		MaxAttempts: maxAttemptsFor(entry.QueueName),
	}
	f.jobs[job.ID] = job
	delete(f.deadLetters, entryID)
	return job, nil
}

func (f *fakeStore) QueueCounts(context.Context) (map[string]metrics.QueueCounts, error) {
	counts := make(map[string]metrics.QueueCounts)
	for _, job := range f.jobs {
		c := counts[job.QueueName]
		switch job.State {
		case queue.StateWaiting:
			c.Waiting++
		case queue.StateDelayed:
			c.Delayed++
		case queue.StateActive:
			c.Active++
		case queue.StateCompleted:
			c.Completed++
		case queue.StateFailed:
			c.Failed++
		}
		counts[job.QueueName] = c
	}
	return counts, nil
}

type fakePublisher struct {
	published []string // "queue/jobID"
	err       error
}

func (f *fakePublisher) PublishNudge(_ context.Context, queueName, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, queueName+"/"+jobID)
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

type testEnv struct {
	handler   *Handler
	store     *fakeStore
	publisher *fakePublisher
	limiter   *fakeLimiter
}

func testQueueConfigs() []queue.Config {
	return []queue.Config{
		{
			Name:              "enrichment",
			Concurrency:       4,
			MaxAttempts:       3,
			BackoffBase:       5 * time.Second,
			BackoffMultiplier: 5,
			RateLimit:         10,
			RateWindow:        time.Minute,
			JobTimeout:        time.Minute,
		},
		{
			Name:              "scraping",
			Concurrency:       2,
			MaxAttempts:       5,
			BackoffBase:       5 * time.Second,
			BackoffMultiplier: 5,
			RateLimit:         10,
			RateWindow:        time.Minute,
			JobTimeout:        time.Minute,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store:     newFakeStore(),
		publisher: &fakePublisher{},
		limiter:   &fakeLimiter{allowed: true},
	}
	env.handler = NewHandler(
		env.store,
		env.publisher,
		env.limiter,
		queue.NewRegistry(testQueueConfigs()),
		logger.NewDefault().Logger,
	)
	return env
}

// perform runs a request through a minimal router that mirrors the real
// route setup, including the principal header middleware.
func (e *testEnv) perform(t *testing.T, method, target, principal, body string) *httptest.ResponseRecorder {
	t.Helper()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if p := c.GetHeader("X-Principal-ID"); p != "" {
			c.Set(PrincipalContextKey, p)
		}
		c.Next()
	})
	r.POST("/api/v1/jobs", e.handler.CreateJob)
	r.GET("/api/v1/jobs", e.handler.ListJobs)
	r.GET("/api/v1/jobs/:id", e.handler.GetJob)
	r.GET("/api/v1/dlq", e.handler.ListDeadLetters)
	r.POST("/api/v1/dlq/:id/retry", e.handler.RetryDeadLetter)
	r.GET("/api/v1/stats", e.handler.Stats)
	r.GET("/metrics", e.handler.Metrics)

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if principal != "" {
		req.Header.Set("X-Principal-ID", principal)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "unexpected status, body: %s", w.Body.String())
}
