package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"

	"github.com/sentinelops/backplane/pkg/models"
)

// DecisionStore persists decisions with a unique alert_id constraint.
type DecisionStore struct {
	db *stdsql.DB
}

// Insert writes a decision unless one already exists for the alert. It
// returns false when the unique alert_id constraint suppressed the write,
// which keeps concurrent decision-engine replicas from double-deciding.
func (s *DecisionStore) Insert(ctx context.Context, d models.Decision) (bool, error) {
	rationale, err := json.Marshal(d.Rationale)
	if err != nil {
		return false, fmt.Errorf("encode rationale: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, alert_id, agent_id, event_type, severity, score, recommended_action, priority, rationale, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (alert_id) DO NOTHING`,
		d.ID, d.AlertID, d.AgentID, d.EventType, string(d.Severity), d.Score,
		string(d.RecommendedAction), d.Priority, rationale, string(d.Status))
	if err != nil {
		return false, fmt.Errorf("insert decision for alert %s: %w", d.AlertID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decision rows affected: %w", err)
	}
	return n > 0, nil
}

// GetByAlertID fetches the decision attached to an alert, if any.
func (s *DecisionStore) GetByAlertID(ctx context.Context, alertID string) (*models.Decision, error) {
	var (
		d         models.Decision
		sev       string
		action    string
		status    string
		rationale []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, alert_id, agent_id, event_type, severity, score, recommended_action, priority, rationale, status, created_at, updated_at
		 FROM decisions WHERE alert_id = $1`,
		alertID).Scan(&d.ID, &d.AlertID, &d.AgentID, &d.EventType, &sev, &d.Score,
		&action, &d.Priority, &rationale, &status, &d.CreatedAt, &d.UpdatedAt)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query decision for alert %s: %w", alertID, err)
	}
	d.Severity = models.Severity(sev)
	d.RecommendedAction = models.RecommendedAction(action)
	d.Status = models.DecisionStatus(status)
	if len(rationale) > 0 {
		if err := json.Unmarshal(rationale, &d.Rationale); err != nil {
			return nil, fmt.Errorf("decode rationale for alert %s: %w", alertID, err)
		}
	}
	return &d, nil
}
