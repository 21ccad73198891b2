package models

import "time"

// RecommendedAction enumerates the remediations the decision engine can
// attach to an alert.
type RecommendedAction string

// Recommended actions, ordered roughly by blast radius.
const (
	ActionIsolateHost      RecommendedAction = "isolate_host"
	ActionTerminateProcess RecommendedAction = "terminate_process"
	ActionQuarantineFile   RecommendedAction = "quarantine_file"
	ActionBlockIP          RecommendedAction = "block_ip"
	ActionNotifySOC        RecommendedAction = "notify_soc"
)

// DecisionStatus tracks a decision through its lifecycle.
type DecisionStatus string

// Decision statuses.
const (
	DecisionPending   DecisionStatus = "pending"
	DecisionExecuted  DecisionStatus = "executed"
	DecisionDismissed DecisionStatus = "dismissed"
)

// Decision is a recommended remediation attached 1:1 to an alert.
// AlertID is unique: at most one decision exists per alert.
type Decision struct {
	ID                string            `json:"id"`
	AlertID           string            `json:"alert_id"`
	AgentID           string            `json:"agent_id"`
	EventType         string            `json:"event_type"`
	Severity          Severity          `json:"severity"`
	Score             float64           `json:"score"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Priority          float64           `json:"priority"`
	Rationale         map[string]any    `json:"rationale"`
	Status            DecisionStatus    `json:"status"`
	CreatedAt         time.Time         `json:"created_at,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty"`
}
