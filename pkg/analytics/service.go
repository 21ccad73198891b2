// Package analytics implements the alerting service: it consumes enriched
// events, extracts features, scores them through the detector ensemble,
// and persists/publishes alerts for scores at or above the alerting
// threshold.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/features"
	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
	"github.com/sentinelops/backplane/pkg/schema"
)

// Publisher is the outbound side of the bus.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// AlertSink persists alerts.
type AlertSink interface {
	Insert(ctx context.Context, a models.Alert) error
}

// Scorer is the ensemble surface the service depends on.
type Scorer interface {
	Detect(feats map[string]any, agentID, eventType string) (float64, map[string][]string)
}

// Service scores enriched events into alerts. In shadow mode scoring runs
// fully but alerts are logged instead of persisted and published, which
// lets a new model mix soak against production traffic.
type Service struct {
	Extractor  *features.Extractor
	Ensemble   Scorer
	Sink       AlertSink
	Bus        Publisher
	Validator  *schema.Validator
	ShadowMode bool
}

// Handle processes one enriched-event delivery. Returned errors cause a
// nack-without-requeue upstream.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	if err := s.Validator.ValidateEnriched(d.Body); err != nil {
		metrics.EventsConsumed.WithLabelValues("analytics", "schema_invalid").Inc()
		return fmt.Errorf("enriched event rejected: %w", err)
	}

	var ev models.EnrichedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		metrics.EventsConsumed.WithLabelValues("analytics", "schema_invalid").Inc()
		return fmt.Errorf("decode enriched event: %w", err)
	}

	feats := s.Extractor.Extract(ctx, ev)
	score, reasons := s.Ensemble.Detect(feats, ev.AgentID, ev.EventType)

	severity, alerting := models.SeverityForScore(score)
	if !alerting {
		metrics.EventsConsumed.WithLabelValues("analytics", "ok").Inc()
		slog.Debug("Event below alerting threshold",
			"event_id", ev.EventID, "event_type", ev.EventType, "score", score)
		return nil
	}

	alert := models.Alert{
		ID:        uuid.NewString(),
		EventID:   ev.EventID,
		AgentID:   ev.AgentID,
		EventType: ev.EventType,
		Score:     score,
		Severity:  severity,
		Source:    "analytics",
		Details: models.AlertDetails{
			Features: feats,
			Reasons:  reasons,
			Model:    "ensemble",
		},
	}

	if s.ShadowMode {
		slog.Info("Shadow mode: alert suppressed",
			"alert_id", alert.ID, "event_id", ev.EventID,
			"severity", severity, "score", score, "reasons", reasons)
		metrics.EventsConsumed.WithLabelValues("analytics", "ok").Inc()
		return nil
	}

	// Write first; only a stored alert may be published. A failed publish
	// leaves the row for the decision engine's poller to find.
	if err := s.Sink.Insert(ctx, alert); err != nil {
		metrics.EventsConsumed.WithLabelValues("analytics", "error").Inc()
		return fmt.Errorf("persist alert: %w", err)
	}
	if err := s.Bus.PublishJSON(ctx, alert.RoutingKey(), alert); err != nil {
		slog.Error("Alert stored but publish failed",
			"alert_id", alert.ID, "routing_key", alert.RoutingKey(), "error", err)
	}

	metrics.EventsConsumed.WithLabelValues("analytics", "ok").Inc()
	metrics.AlertsCreated.WithLabelValues(string(severity)).Inc()
	slog.Info("Alert created",
		"alert_id", alert.ID, "event_id", ev.EventID,
		"severity", severity, "score", score)
	return nil
}
