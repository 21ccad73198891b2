// Package decision implements the polling decision engine: it attaches a
// recommended remediation to every recent alert that lacks one.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
)

// Window and batch bounds for one polling pass.
const (
	scanWindow = 24 * time.Hour
	scanLimit  = 200
)

// AlertSource lists alerts awaiting a decision.
type AlertSource interface {
	ListUndecided(ctx context.Context, window time.Duration, limit int) ([]models.Alert, error)
}

// DecisionSink persists decisions idempotently by alert id.
type DecisionSink interface {
	Insert(ctx context.Context, d models.Decision) (bool, error)
}

// Engine scans undecided alerts and records recommendations.
type Engine struct {
	Alerts    AlertSource
	Decisions DecisionSink
}

// Recommend maps an alert to (action, priority) by ordered heuristics, with
// priority floors when anomaly or behavioral evidence is present.
func Recommend(a models.Alert) (models.RecommendedAction, float64) {
	feats := a.Details.Features
	reasons := a.Details.Reasons

	action := models.ActionNotifySOC
	priority := 1.0

	switch {
	case a.Severity == models.SeverityCritical || a.Severity == models.SeverityHigh || a.Score >= 80:
		action, priority = models.ActionIsolateHost, 5.0
	case a.EventType == "process" && (featBool(feats, "hash_known_malicious") || featNum(feats, "vt_positives") > 50):
		action, priority = models.ActionTerminateProcess, 4.0
	case a.EventType == "process" && featBool(feats, "is_suspicious_path"):
		action, priority = models.ActionQuarantineFile, 3.0
	case a.EventType == "network" && !featBool(feats, "is_private_ip") && !featBool(feats, "is_loopback"):
		action, priority = models.ActionBlockIP, 3.5
	case a.EventType == "file" && featNum(feats, "yara_hits_count") > 0:
		action, priority = models.ActionQuarantineFile, 3.5
	}

	if len(reasons["anomaly"]) > 0 {
		priority = max(priority, 2.5)
	}
	if len(reasons["behavioral"]) > 0 {
		priority = max(priority, 2.0)
	}
	return action, priority
}

// RunOnce performs one polling pass and returns how many decisions were
// recorded. Conflicting inserts (another replica decided first) are
// skipped silently.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	alerts, err := e.Alerts.ListUndecided(ctx, scanWindow, scanLimit)
	if err != nil {
		return 0, fmt.Errorf("list undecided alerts: %w", err)
	}

	created := 0
	for _, a := range alerts {
		action, priority := Recommend(a)
		d := models.Decision{
			ID:                uuid.NewString(),
			AlertID:           a.ID,
			AgentID:           a.AgentID,
			EventType:         a.EventType,
			Severity:          a.Severity,
			Score:             a.Score,
			RecommendedAction: action,
			Priority:          priority,
			Rationale: map[string]any{
				"features": a.Details.Features,
				"reasons":  a.Details.Reasons,
			},
			Status: models.DecisionPending,
		}

		inserted, err := e.Decisions.Insert(ctx, d)
		if err != nil {
			return created, fmt.Errorf("record decision for alert %s: %w", a.ID, err)
		}
		if inserted {
			created++
			metrics.DecisionsCreated.WithLabelValues(string(action)).Inc()
		}
	}

	if created > 0 {
		slog.Info("Decision engine pass complete", "created", created, "scanned", len(alerts))
	}
	return created, nil
}

// Run polls until the context is cancelled. interval <= 0 disables the
// poller entirely.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Info("Decision engine poller disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Decision engine poller started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Decision engine poller stopped")
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				slog.Error("Decision engine pass failed", "error", err)
			}
		}
	}
}

func featBool(feats map[string]any, key string) bool {
	v, _ := feats[key].(bool)
	return v
}

func featNum(feats map[string]any, key string) float64 {
	switch v := feats[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
