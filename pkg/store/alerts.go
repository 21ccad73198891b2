package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelops/backplane/pkg/models"
)

// AlertStore persists alerts. Alerts are immutable after insert.
type AlertStore struct {
	db *stdsql.DB
}

// Insert writes an alert inside a single transaction. Publishing to the bus
// must only happen after this returns nil; a failed insert means no publish.
func (s *AlertStore) Insert(ctx context.Context, a models.Alert) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("encode alert details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (id, event_id, agent_id, event_type, score, severity, source, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EventID, a.AgentID, a.EventType, a.Score, string(a.Severity), a.Source, details)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert insert: %w", err)
	}
	return nil
}

// ListUndecided returns alerts created within the window that have no
// decision yet, newest first, capped at limit.
func (s *AlertStore) ListUndecided(ctx context.Context, window time.Duration, limit int) ([]models.Alert, error) {
	since := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.event_id, a.agent_id, a.event_type, a.score, a.severity, a.source, a.details, a.created_at
		 FROM alerts a
		 LEFT JOIN decisions d ON d.alert_id = a.id::varchar
		 WHERE a.created_at >= $1 AND d.id IS NULL
		 ORDER BY a.created_at DESC
		 LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("query undecided alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a       models.Alert
			sev     string
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.EventID, &a.AgentID, &a.EventType, &a.Score, &sev, &a.Source, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Severity = models.Severity(sev)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("decode details for alert %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return out, nil
}
