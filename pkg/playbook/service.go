package playbook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
)

// Service ties resolution, generation, and execution together behind the
// alerts consumer and the file-input path.
type Service struct {
	Resolver  *Resolver
	Generator *Generator
	Executor  *Executor
}

// Handle processes one alerts.* delivery. Only a malformed body is a
// handler error (nack); everything past decoding is at-most-once, so gate
// rejections and execution failures are logged and acked — the broker must
// never redeliver an alert whose actions may already have run.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	var alert map[string]any
	if err := json.Unmarshal(d.Body, &alert); err != nil {
		metrics.EventsConsumed.WithLabelValues("playbook-engine", "schema_invalid").Inc()
		return fmt.Errorf("decode alert: %w", err)
	}

	s.Respond(ctx, alert)
	metrics.EventsConsumed.WithLabelValues("playbook-engine", "ok").Inc()
	return nil
}

// Respond resolves (or generates) the playbook for the alert and executes
// it. All failures are terminal for this alert.
func (s *Service) Respond(ctx context.Context, alert map[string]any) {
	eventType := fmt.Sprint(alert["event_type"])
	severity := fmt.Sprint(alert["severity"])
	log := slog.With("alert_id", alert["id"], "event_type", eventType, "severity", severity)

	pb, err := s.Resolver.Find(eventType, severity)
	if err != nil {
		log.Error("Playbook resolution failed", "error", err)
		return
	}
	if pb == nil {
		pb, err = s.Generator.Generate(ctx, alert)
		if err != nil {
			log.Error("Playbook generation failed", "error", err)
			return
		}
		log.Info("Generated playbook", "playbook_id", pb.ID)
	}

	res, err := s.Executor.Execute(ctx, pb, alert)
	switch {
	case errors.Is(err, ErrUnderCooldown):
		metrics.PlaybookExecutions.WithLabelValues("cooldown").Inc()
		log.Info("Execution skipped", "reason", err.Error(), "playbook_id", pb.ID)
	case errors.Is(err, ErrLocked):
		metrics.PlaybookExecutions.WithLabelValues("locked").Inc()
		log.Info("Execution skipped", "reason", err.Error(), "playbook_id", pb.ID)
	case errors.Is(err, ErrPreconditions):
		metrics.PlaybookExecutions.WithLabelValues("preconditions").Inc()
		log.Info("Execution skipped", "reason", err.Error(), "playbook_id", pb.ID)
	case err != nil:
		log.Error("Execution failed", "playbook_id", pb.ID, "error", err)
	default:
		log.Info("Execution finished", "playbook_id", pb.ID,
			"execution_id", res.ID, "success", res.Success, "rolled_back", res.RolledBack)
	}
}

// ProcessFile feeds alerts from a JSON array or JSONL file through the same
// response path as bus deliveries. Returns the number of alerts processed;
// malformed entries are skipped with a warning.
func (s *Service) ProcessFile(ctx context.Context, path string) (int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read alerts file: %w", err)
	}

	var alerts []map[string]any
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &alerts); err != nil {
			return 0, fmt.Errorf("decode alerts file %s: %w", path, err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(body))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var alert map[string]any
			if err := json.Unmarshal(text, &alert); err != nil {
				slog.Warn("Skipping malformed alert line", "file", path, "line", line, "error", err)
				continue
			}
			alerts = append(alerts, alert)
		}
		if err := sc.Err(); err != nil {
			return 0, fmt.Errorf("scan alerts file %s: %w", path, err)
		}
	}

	for _, alert := range alerts {
		if ctx.Err() != nil {
			return len(alerts), ctx.Err()
		}
		s.Respond(ctx, alert)
	}
	return len(alerts), nil
}

// AlertMap converts a typed alert into the loose map the playbook layer
// works with (preconditions and recipes index it by JSON field name).
func AlertMap(a models.Alert) (map[string]any, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
