// Package models defines the domain types shared by the enrichment,
// analytics, and playbook-engine services.
package models

// EventType enumerates the telemetry categories produced by endpoint agents.
type EventType string

// Supported event types.
const (
	EventTypeProcess EventType = "process"
	EventTypeFile    EventType = "file"
	EventTypeNetwork EventType = "network"
	EventTypeSystem  EventType = "system"
)

// ValidEventType reports whether t is one of the four telemetry categories.
func ValidEventType(t string) bool {
	switch EventType(t) {
	case EventTypeProcess, EventTypeFile, EventTypeNetwork, EventTypeSystem:
		return true
	}
	return false
}

// RawEvent is a host-telemetry message as produced by an endpoint agent.
// Raw events are owned by the producer; the back-plane only reads them.
type RawEvent struct {
	EventID   string         `json:"event_id"`
	AgentID   string         `json:"agent_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

// Reputation aggregates external threat-intel verdicts for an indicator.
type Reputation struct {
	VT  *VTResult  `json:"vt,omitempty"`
	OTX *OTXResult `json:"otx,omitempty"`
}

// VTResult is the condensed VirusTotal verdict for a file hash.
// A 404 from the API maps to the zero value ("unknown", not an error).
type VTResult struct {
	Positives int `json:"positives"`
	Total     int `json:"total"`
}

// OTXResult is the condensed AlienVault OTX verdict for an indicator.
type OTXResult struct {
	Pulses int `json:"pulses"`
}

// GeoIP holds the city-level lookup result for a remote address.
type GeoIP struct {
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Org     string  `json:"org,omitempty"`
}

// Enrichment is the threat-intel augmentation attached to a raw event.
// ThreatScore is additive with a saturating clamp to [0,100].
type Enrichment struct {
	IOCMatches  []string   `json:"ioc_matches"`
	Reputation  Reputation `json:"reputation"`
	YaraHits    []string   `json:"yara_hits"`
	GeoIP       GeoIP      `json:"geoip"`
	ThreatScore float64    `json:"threat_score"`
}

// NewEnrichment returns an enrichment with non-nil slices so the JSON
// representation always carries empty arrays rather than null.
func NewEnrichment() Enrichment {
	return Enrichment{
		IOCMatches: []string{},
		YaraHits:   []string{},
	}
}

// AddScore adds delta to the threat score, clamping the result to [0,100].
func (e *Enrichment) AddScore(delta float64) {
	e.ThreatScore += delta
	if e.ThreatScore > 100 {
		e.ThreatScore = 100
	}
	if e.ThreatScore < 0 {
		e.ThreatScore = 0
	}
}

// Tag records an IOC match by name.
func (e *Enrichment) Tag(name string) {
	e.IOCMatches = append(e.IOCMatches, name)
}

// EnrichedEvent is a raw event plus its enrichment. Immutable after publish;
// produced exactly once per consumed raw event (best effort under the
// at-most-once delivery contract).
type EnrichedEvent struct {
	EventID    string         `json:"event_id"`
	AgentID    string         `json:"agent_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	Enrichment Enrichment     `json:"enrichment"`
	Timestamp  string         `json:"timestamp"`
}
