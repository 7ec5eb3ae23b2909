package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
)

// QueueCounts holds per-state job counts for a single queue.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a point-in-time view of all queue depths. Counts come from a
// single aggregate query, so the numbers within one snapshot are consistent
// with each other.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Queues    map[string]QueueCounts `json:"queues"`
}

// ByState returns the count for a lifecycle state.
func (c QueueCounts) ByState(s queue.State) int64 {
	switch s {
	case queue.StateWaiting:
		return c.Waiting
	case queue.StateDelayed:
		return c.Delayed
	case queue.StateActive:
		return c.Active
	case queue.StateCompleted:
		return c.Completed
	case queue.StateFailed:
		return c.Failed
	}
	return 0
}

var exportedStates = []queue.State{
	queue.StateWaiting,
	queue.StateDelayed,
	queue.StateActive,
	queue.StateCompleted,
	queue.StateFailed,
}

// RenderPrometheus renders the snapshot in the Prometheus text exposition
// format. Output is sorted by queue then state so scrapes are diffable.
func RenderPrometheus(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("# HELP jobqueue_jobs Number of jobs by queue and lifecycle state.\n")
	b.WriteString("# TYPE jobqueue_jobs gauge\n")

	names := make([]string, 0, len(snap.Queues))
	for name := range snap.Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		counts := snap.Queues[name]
		for _, state := range exportedStates {
			fmt.Fprintf(&b, "jobqueue_jobs{queue=%q,state=%q} %d\n",
				name, string(state), counts.ByState(state))
		}
	}
	return b.String()
}
