package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay(t *testing.T) {
	cfg := Config{
		Name:              "enrichment",
		BackoffBase:       5 * time.Second,
		BackoffMultiplier: 5,
	}

	tests := []struct {
		name         string
		attemptsMade int
		expected     time.Duration
	}{
		{name: "first failure", attemptsMade: 1, expected: 5 * time.Second},
		{name: "second failure", attemptsMade: 2, expected: 25 * time.Second},
		{name: "third failure", attemptsMade: 3, expected: 125 * time.Second},
		{name: "fourth failure", attemptsMade: 4, expected: 625 * time.Second},
		{name: "zero clamps to first", attemptsMade: 0, expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextDelay(cfg, tt.attemptsMade))
		})
	}
}

func TestNextDelay_MultiplierOne(t *testing.T) {
	cfg := Config{BackoffBase: 2 * time.Second, BackoffMultiplier: 1}

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 2*time.Second, NextDelay(cfg, attempt))
	}
}
