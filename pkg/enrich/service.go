// Package enrich implements the threat-intelligence enrichment service:
// it consumes raw telemetry, attaches intel verdicts and a threat score,
// persists the enrichment record, and republishes the enriched event.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/intel"
	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
	"github.com/sentinelops/backplane/pkg/schema"
)

// Publisher is the outbound side of the bus.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// EnrichmentSink persists enrichment records.
type EnrichmentSink interface {
	Insert(ctx context.Context, ev models.EnrichedEvent) error
}

// GeoResolver locates remote addresses.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.GeoIP
}

// Service wires the enrichers to their collaborators. Scanner may be nil
// (no rules loaded); Geo is never nil (use intel.NoGeoIP without a
// database).
type Service struct {
	Cache     *intel.Cache
	Geo       GeoResolver
	Scanner   *intel.Scanner
	Sink      EnrichmentSink
	Bus       Publisher
	Validator *schema.Validator
}

// Handle processes one raw-event delivery end to end. Any returned error
// causes a nack-without-requeue upstream.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	if err := s.Validator.ValidateRaw(d.Body); err != nil {
		metrics.EventsConsumed.WithLabelValues("enrichment", "schema_invalid").Inc()
		return fmt.Errorf("raw event rejected: %w", err)
	}

	var raw models.RawEvent
	if err := json.Unmarshal(d.Body, &raw); err != nil {
		metrics.EventsConsumed.WithLabelValues("enrichment", "schema_invalid").Inc()
		return fmt.Errorf("decode raw event: %w", err)
	}

	enriched := models.EnrichedEvent{
		EventID:    raw.EventID,
		AgentID:    raw.AgentID,
		EventType:  raw.EventType,
		Payload:    raw.Payload,
		Enrichment: s.Enrich(ctx, raw),
		Timestamp:  raw.Timestamp,
	}

	// Persist before publish: a stored-but-unpublished enrichment is
	// recoverable, the reverse is not.
	if err := s.Sink.Insert(ctx, enriched); err != nil {
		metrics.EventsConsumed.WithLabelValues("enrichment", "error").Inc()
		return fmt.Errorf("persist enrichment: %w", err)
	}

	body, err := json.Marshal(enriched)
	if err != nil {
		return fmt.Errorf("encode enriched event: %w", err)
	}
	if err := s.Validator.ValidateEnriched(body); err != nil {
		metrics.EventsConsumed.WithLabelValues("enrichment", "error").Inc()
		return fmt.Errorf("enriched event invalid: %w", err)
	}

	key := "events.enriched." + raw.AgentID + "." + raw.EventType
	if err := s.Bus.PublishJSON(ctx, key, enriched); err != nil {
		metrics.EventsConsumed.WithLabelValues("enrichment", "error").Inc()
		return fmt.Errorf("publish enriched event: %w", err)
	}

	metrics.EventsConsumed.WithLabelValues("enrichment", "ok").Inc()
	metrics.EventsEnriched.WithLabelValues(raw.EventType).Inc()
	slog.Info("Enriched event",
		"event_type", raw.EventType,
		"event_id", raw.EventID,
		"threat_score", enriched.Enrichment.ThreatScore)
	return nil
}

// Enrich dispatches to the type-matched enricher. Unknown types get an
// empty enrichment; they are filtered earlier by schema validation.
func (s *Service) Enrich(ctx context.Context, raw models.RawEvent) models.Enrichment {
	switch models.EventType(raw.EventType) {
	case models.EventTypeFile:
		return s.enrichFile(ctx, raw)
	case models.EventTypeNetwork:
		return s.enrichNetwork(ctx, raw)
	case models.EventTypeProcess:
		return s.enrichProcess(ctx, raw)
	case models.EventTypeSystem:
		return s.enrichSystem(ctx, raw)
	}
	return models.NewEnrichment()
}
