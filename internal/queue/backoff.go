package queue

import "time"

// NextDelay returns the delay before the next attempt after attemptsMade
// failed executions: base × multiplier^(attemptsMade−1).
//
// The delay is a pure function of persisted state so a process restart can
// recompute schedules; no in-memory timers hold queue state.
func NextDelay(cfg Config, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	d := float64(cfg.BackoffBase)
	for i := 1; i < attemptsMade; i++ {
		d *= cfg.BackoffMultiplier
	}
	return time.Duration(d)
}
