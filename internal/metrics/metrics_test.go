package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trihoang/offloadq/internal/queue"
)

func TestRenderPrometheus(t *testing.T) {
	snap := Snapshot{
		Timestamp: time.Now(),
		Queues: map[string]QueueCounts{
			"scraping":   {Waiting: 3, Active: 1},
			"enrichment": {Waiting: 12, Delayed: 2, Completed: 40, Failed: 1},
		},
	}

	out := RenderPrometheus(snap)

	assert.True(t, strings.HasPrefix(out, "# HELP jobqueue_jobs"))
	assert.Contains(t, out, "# TYPE jobqueue_jobs gauge")
	assert.Contains(t, out, `jobqueue_jobs{queue="enrichment",state="waiting"} 12`)
	assert.Contains(t, out, `jobqueue_jobs{queue="enrichment",state="failed"} 1`)
	assert.Contains(t, out, `jobqueue_jobs{queue="scraping",state="active"} 1`)
	// states absent from the counts still appear as zero
	assert.Contains(t, out, `jobqueue_jobs{queue="scraping",state="failed"} 0`)

	// queues render in sorted order
	enrichIdx := strings.Index(out, `queue="enrichment"`)
	scrapeIdx := strings.Index(out, `queue="scraping"`)
	require.NotEqual(t, -1, enrichIdx)
	require.NotEqual(t, -1, scrapeIdx)
	assert.Less(t, enrichIdx, scrapeIdx)
}

func TestRenderPrometheus_Empty(t *testing.T) {
	out := RenderPrometheus(Snapshot{Queues: map[string]QueueCounts{}})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2) // only the HELP and TYPE headers
}

func TestQueueCounts_ByState(t *testing.T) {
	counts := QueueCounts{Waiting: 1, Delayed: 2, Active: 3, Completed: 4, Failed: 5}

	tests := []struct {
		state queue.State
		want  int64
	}{
		{queue.StateWaiting, 1},
		{queue.StateDelayed, 2},
		{queue.StateActive, 3},
		{queue.StateCompleted, 4},
		{queue.StateFailed, 5},
		{queue.State("bogus"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, counts.ByState(tt.state))
		})
	}
}
