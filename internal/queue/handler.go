package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ProgressFunc reports handler progress in percent (0-100). Reports are
// monotone within one claim; the broker ignores reports from superseded
// claims.
type ProgressFunc func(pct int)

// HandlerFunc executes one job. The payload has already passed the queue's
// validator at admission. Returning an error wrapped with Fatal moves the job
// straight to the dead letter store; any other error is treated as retryable.
//
// Execution is at-least-once: handlers must be idempotent or detect
// duplicate effects.
type HandlerFunc func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error)

// Validator checks a payload against the queue's schema. It runs
// synchronously at enqueue time, before any broker write.
type Validator func(payload json.RawMessage) error

// Registry binds queue configurations to their validators and handlers.
// The API service uses it for admission checks; the worker service for
// execution. Registration happens at startup, lookups afterwards.
type Registry struct {
	mu         sync.RWMutex
	configs    map[string]Config
	validators map[string]Validator
	handlers   map[string]HandlerFunc
}

// NewRegistry creates a registry over the given static queue configurations.
func NewRegistry(configs []Config) *Registry {
	r := &Registry{
		configs:    make(map[string]Config, len(configs)),
		validators: make(map[string]Validator),
		handlers:   make(map[string]HandlerFunc),
	}
	for _, c := range configs {
		r.configs[c.Name] = c
	}
	return r
}

// Register attaches a validator and handler to a configured queue.
func (r *Registry) Register(queueName string, v Validator, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[queueName]; !ok {
		return fmt.Errorf("register %q: %w", queueName, ErrUnknownQueue)
	}
	r.validators[queueName] = v
	r.handlers[queueName] = h
	return nil
}

// Queue returns the configuration for a queue name.
func (r *Registry) Queue(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	return c, ok
}

// Handler returns the handler registered for a queue name.
func (r *Registry) Handler(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// ValidatePayload runs the queue's admission check against payload.
func (r *Registry) ValidatePayload(name string, payload json.RawMessage) error {
	r.mu.RLock()
	v, ok := r.validators[name]
	r.mu.RUnlock()
	if !ok {
		// No validator registered: accept any well-formed JSON value.
		if !json.Valid(payload) {
			return &ValidationError{Queue: name, Reason: "payload is not valid JSON"}
		}
		return nil
	}
	return v(payload)
}

// Names returns the configured queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configs returns all queue configurations, ordered by name.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
