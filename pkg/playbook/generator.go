package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sentinelops/backplane/pkg/audit"
)

const plannerSystemPrompt = `You are a SOC automation assistant. Given an alert,
produce a YAML response playbook using ONLY the listed actions. Output pure
YAML with top-level keys: id, version, metadata, preconditions, steps,
rollback. Each step needs name, action, params, on_error.`

// Generator produces playbooks for alerts that have no existing playbook:
// planner first, deterministic recipe when the planner is absent or emits
// something the catalog rejects. Generated playbooks are persisted so the
// same (event type, severity) pair reuses them.
type Generator struct {
	Planner Planner
	Catalog *Catalog
	OutDir  string
	Audit   *audit.Auditor
}

// Generate builds, persists, and returns the playbook for the alert.
func (g *Generator) Generate(ctx context.Context, alert map[string]any) (*Playbook, error) {
	eventType := fmt.Sprint(alert["event_type"])
	severity := fmt.Sprint(alert["severity"])
	id := PlaybookID(eventType, severity)

	pb := g.plan(ctx, alert, id)
	if pb == nil {
		pb = g.recipe(alert, eventType)
	}

	// The id is ours, not the planner's: resolution is keyed on it.
	pb.ID = id
	pb.Metadata["event_type"] = eventType
	pb.Metadata["severity"] = severity
	pb.Metadata["generated_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := g.save(pb); err != nil {
		return nil, err
	}
	g.Audit.Emit("playbook_generated", map[string]any{
		"playbook_id": id,
		"alert_id":    alert["id"],
		"steps":       len(pb.Steps),
	})
	return pb, nil
}

// plan asks the planner for a playbook; any failure (no planner, transport
// error, catalog rejection) yields nil and the caller falls back.
func (g *Generator) plan(ctx context.Context, alert map[string]any, id string) *Playbook {
	if g.Planner == nil {
		return nil
	}

	alertJSON, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return nil
	}
	user := fmt.Sprintf("Available actions:\n%s\nPlaybook id must be %q.\n\nAlert:\n%s",
		g.Catalog.Describe(), id, alertJSON)

	text, err := g.Planner.Plan(ctx, plannerSystemPrompt, user)
	if err != nil {
		slog.Warn("Planner call failed, falling back to recipe", "playbook_id", id, "error", err)
		return nil
	}
	pb, err := ParseText(text, g.Catalog)
	if err != nil {
		slog.Warn("Planner output rejected, falling back to recipe", "playbook_id", id, "error", err)
		return nil
	}
	return pb
}

// recipe is the deterministic per-event-type fallback. Each recipe is a
// single catalog action with params pulled from the alert where available.
func (g *Generator) recipe(alert map[string]any, eventType string) *Playbook {
	var step Step
	switch eventType {
	case "process":
		pid := alertDetail(alert, "pid")
		if pid == nil {
			pid = 0
		}
		step = Step{Name: "Kill Process", Action: "kill_process",
			Params: map[string]any{"pid": pid}, OnError: "stop"}
	case "network":
		ip := alertDetail(alert, "remote_ip")
		if ip == nil {
			ip = "0.0.0.0"
		}
		step = Step{Name: "Block Ip", Action: "block_ip",
			Params: map[string]any{"ip": ip}, OnError: "stop"}
	case "file":
		path := alertDetail(alert, "file_path")
		if path == nil {
			path = "C:/tmp/unknown.bin"
		}
		step = Step{Name: "Quarantine File", Action: "quarantine_file",
			Params: map[string]any{"path": path}, OnError: "stop"}
	default:
		step = Step{Name: "Isolate Host", Action: "isolate_host",
			Params: map[string]any{}, OnError: "stop"}
	}

	return &Playbook{
		Version:       "1.0",
		Metadata:      map[string]any{"generator": "recipe"},
		Preconditions: []map[string]any{},
		Steps:         []Step{step},
	}
}

// alertDetail looks up key in the alert's details map, then its nested
// features map.
func alertDetail(alert map[string]any, key string) any {
	details, _ := alert["details"].(map[string]any)
	if details == nil {
		return nil
	}
	if v, ok := details[key]; ok {
		return v
	}
	if feats, ok := details["features"].(map[string]any); ok {
		if v, ok := feats[key]; ok {
			return v
		}
	}
	return nil
}

func (g *Generator) save(pb *Playbook) error {
	body, err := pb.Serialize()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(g.OutDir, 0o755); err != nil {
		return fmt.Errorf("create playbook dir: %w", err)
	}
	path := filepath.Join(g.OutDir, pb.ID+".yaml")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write playbook %s: %w", path, err)
	}
	return nil
}
