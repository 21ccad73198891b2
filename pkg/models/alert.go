package models

import "time"

// Severity buckets an ensemble score. Alerts below the medium threshold are
// never created.
type Severity string

// Severity levels, ordered.
const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert score thresholds.
const (
	AlertThreshold    = 50.0
	HighThreshold     = 65.0
	CriticalThreshold = 80.0
)

// SeverityForScore maps an ensemble score to its severity bucket.
// The second return is false when the score is below the alerting threshold.
func SeverityForScore(score float64) (Severity, bool) {
	switch {
	case score >= CriticalThreshold:
		return SeverityCritical, true
	case score >= HighThreshold:
		return SeverityHigh, true
	case score >= AlertThreshold:
		return SeverityMedium, true
	}
	return "", false
}

// AlertDetails carries the evidence behind an alert.
type AlertDetails struct {
	Features map[string]any      `json:"features"`
	Reasons  map[string][]string `json:"reasons"`
	Model    string              `json:"model"`
}

// Alert is a persisted detection emitted when the ensemble score crosses the
// alerting threshold. Immutable after insert. Published under
// "alerts.{severity}".
type Alert struct {
	ID        string       `json:"id"`
	EventID   string       `json:"event_id"`
	AgentID   string       `json:"agent_id"`
	EventType string       `json:"event_type"`
	Score     float64      `json:"score"`
	Severity  Severity     `json:"severity"`
	Source    string       `json:"source"`
	Details   AlertDetails `json:"details"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// RoutingKey returns the bus routing key for the alert.
func (a Alert) RoutingKey() string {
	return "alerts." + string(a.Severity)
}
