package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigs() []Config {
	return []Config{
		{Name: "enrichment", Concurrency: 2, MaxAttempts: 5},
		{Name: "scraping", Concurrency: 1, MaxAttempts: 3},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(testConfigs())

	err := r.Register("enrichment", nil, func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, ok := r.Handler("enrichment")
	assert.True(t, ok)

	err = r.Register("no-such-queue", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestRegistry_ValidatePayload(t *testing.T) {
	r := NewRegistry(testConfigs())

	err := r.Register("enrichment", func(payload json.RawMessage) error {
		var p struct {
			Domain string `json:"domain"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return &ValidationError{Queue: "enrichment", Reason: err.Error()}
		}
		if p.Domain == "" {
			return &ValidationError{Queue: "enrichment", Reason: "domain is required"}
		}
		return nil
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		queue   string
		payload string
		wantErr bool
	}{
		{name: "valid payload", queue: "enrichment", payload: `{"domain":"example.com"}`, wantErr: false},
		{name: "missing field", queue: "enrichment", payload: `{}`, wantErr: true},
		{name: "malformed json", queue: "enrichment", payload: `{not json`, wantErr: true},
		{name: "no validator accepts json", queue: "scraping", payload: `{"url":"https://x"}`, wantErr: false},
		{name: "no validator rejects garbage", queue: "scraping", payload: `garbage`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidatePayload(tt.queue, json.RawMessage(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				var ve *ValidationError
				assert.True(t, errors.As(err, &ve))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(testConfigs())
	assert.Equal(t, []string{"enrichment", "scraping"}, r.Names())
}

func TestErrorWrappers(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsFatal(Fatal(base)))
	assert.False(t, IsFatal(Retryable(base)))
	assert.False(t, IsFatal(base))
	assert.ErrorIs(t, Fatal(base), base)
	assert.ErrorIs(t, Retryable(base), base)
	assert.Nil(t, Fatal(nil))
	assert.Nil(t, Retryable(nil))
}
