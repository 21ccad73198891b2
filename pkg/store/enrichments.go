package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelops/backplane/pkg/models"
)

// EnrichmentStore persists enrichment records, one per enriched event.
type EnrichmentStore struct {
	db *stdsql.DB
}

// Insert writes the enrichment attached to an event. The row id is generated
// here; the event id ties the record back to the telemetry stream.
func (s *EnrichmentStore) Insert(ctx context.Context, ev models.EnrichedEvent) error {
	iocs, err := json.Marshal(ev.Enrichment.IOCMatches)
	if err != nil {
		return fmt.Errorf("encode ioc_matches: %w", err)
	}
	rep, err := json.Marshal(ev.Enrichment.Reputation)
	if err != nil {
		return fmt.Errorf("encode reputation: %w", err)
	}
	yara, err := json.Marshal(ev.Enrichment.YaraHits)
	if err != nil {
		return fmt.Errorf("encode yara_hits: %w", err)
	}
	geo, err := json.Marshal(ev.Enrichment.GeoIP)
	if err != nil {
		return fmt.Errorf("encode geoip: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichments (id, event_type, event_id, agent_id, ioc_matches, reputation, yara_hits, geoip, threat_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), ev.EventType, ev.EventID, ev.AgentID, iocs, rep, yara, geo, ev.Enrichment.ThreatScore)
	if err != nil {
		return fmt.Errorf("insert enrichment for event %s: %w", ev.EventID, err)
	}
	return nil
}
