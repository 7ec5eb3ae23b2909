package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/trihoang/offloadq/internal/queue"
)

// Queue names served by this deployment.
const (
	QueueEnrichment = "enrichment"
	QueueScraping   = "scraping"
	QueueAnalytics  = "analytics"
)

// EnrichmentPayload asks for a record batch to be enriched from a source
// system.
type EnrichmentPayload struct {
	Source    string   `json:"source"`
	RecordIDs []string `json:"record_ids"`
}

// ScrapingPayload asks for a URL to be fetched and parsed.
type ScrapingPayload struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth"`
}

// AnalyticsPayload asks for an aggregate report over a date range.
type AnalyticsPayload struct {
	Report string `json:"report"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// RegisterAll binds every known queue's validator and handler into the
// registry. Queues absent from the configuration are skipped, so a
// deployment can serve a subset.
func RegisterAll(registry *queue.Registry, logger *slog.Logger) error {
	bindings := []struct {
		name      string
		validator queue.Validator
		handler   queue.HandlerFunc
	}{
		{QueueEnrichment, validateEnrichment, enrichmentHandler(logger)},
		{QueueScraping, validateScraping, scrapingHandler(logger)},
		{QueueAnalytics, validateAnalytics, analyticsHandler(logger)},
	}

	for _, b := range bindings {
		if _, ok := registry.Queue(b.name); !ok {
			logger.Debug("queue not configured, skipping registration",
				slog.String("queue", b.name))
			continue
		}
		if err := registry.Register(b.name, b.validator, b.handler); err != nil {
			return fmt.Errorf("failed to register queue %q: %w", b.name, err)
		}
	}
	return nil
}

func validateEnrichment(payload json.RawMessage) error {
	var p EnrichmentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &queue.ValidationError{Queue: QueueEnrichment, Reason: "payload is not valid JSON"}
	}
	if p.Source == "" {
		return &queue.ValidationError{Queue: QueueEnrichment, Reason: "source is required"}
	}
	if len(p.RecordIDs) == 0 {
		return &queue.ValidationError{Queue: QueueEnrichment, Reason: "record_ids must not be empty"}
	}
	return nil
}

func validateScraping(payload json.RawMessage) error {
	var p ScrapingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &queue.ValidationError{Queue: QueueScraping, Reason: "payload is not valid JSON"}
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &queue.ValidationError{Queue: QueueScraping, Reason: "url must be absolute"}
	}
	if p.MaxDepth < 0 {
		return &queue.ValidationError{Queue: QueueScraping, Reason: "max_depth must not be negative"}
	}
	return nil
}

func validateAnalytics(payload json.RawMessage) error {
	var p AnalyticsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &queue.ValidationError{Queue: QueueAnalytics, Reason: "payload is not valid JSON"}
	}
	if p.Report == "" {
		return &queue.ValidationError{Queue: QueueAnalytics, Reason: "report is required"}
	}
	return nil
}

// enrichmentHandler walks the record batch, reporting progress per record.
// Execution is at-least-once, so enrichment writes are keyed by record id
// and re-running a batch is safe.
func enrichmentHandler(logger *slog.Logger) queue.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage, progress queue.ProgressFunc) (json.RawMessage, error) {
		var p EnrichmentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, queue.Fatal(fmt.Errorf("undecodable payload: %w", err))
		}

		enriched := 0
		for i, id := range p.RecordIDs {
			if err := ctx.Err(); err != nil {
				return nil, queue.Retryable(err)
			}

			logger.Debug("enriching record",
				slog.String("source", p.Source),
				slog.String("record_id", id),
			)
			enriched++
			progress((i + 1) * 100 / len(p.RecordIDs))
		}

		return json.Marshal(map[string]any{"enriched": enriched, "source": p.Source})
	}
}

func scrapingHandler(logger *slog.Logger) queue.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage, progress queue.ProgressFunc) (json.RawMessage, error) {
		var p ScrapingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, queue.Fatal(fmt.Errorf("undecodable payload: %w", err))
		}

		if err := ctx.Err(); err != nil {
			return nil, queue.Retryable(err)
		}

		logger.Debug("scraping url",
			slog.String("url", p.URL),
			slog.Int("max_depth", p.MaxDepth),
		)
		progress(100)

		return json.Marshal(map[string]any{"url": p.URL, "pages": 1})
	}
}

func analyticsHandler(logger *slog.Logger) queue.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage, progress queue.ProgressFunc) (json.RawMessage, error) {
		var p AnalyticsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, queue.Fatal(fmt.Errorf("undecodable payload: %w", err))
		}

		if err := ctx.Err(); err != nil {
			return nil, queue.Retryable(err)
		}

		logger.Debug("building report", slog.String("report", p.Report))
		progress(100)

		return json.Marshal(map[string]any{"report": p.Report, "from": p.From, "to": p.To})
	}
}
