package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/backplane/pkg/audit"
	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
	"github.com/sentinelops/backplane/pkg/store"
)

// Gate errors. Execute returns these without having run any step; callers
// treat them as normal outcomes, not failures.
var (
	ErrUnderCooldown = errors.New("Under cooldown")
	ErrLocked        = errors.New("Another execution in progress")
	ErrPreconditions = errors.New("Preconditions not met")
)

// ActionFunc runs one action (or its rollback) and returns structured
// output for the step result.
type ActionFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// ActionRegistry is the executor's view of the action registry.
type ActionRegistry interface {
	Action(name string) (ActionFunc, bool)
	Rollback(name string) (ActionFunc, bool)
	Privileged(name string) bool
}

// Executor runs playbooks against an alert: cooldown and lock gates,
// precondition check, sequential steps, rollback on failure, then
// persistence and audit.
type Executor struct {
	KV       *kv.Store
	Registry ActionRegistry
	Log      *store.ExecutionLog
	Audit    *audit.Auditor

	CooldownEnabled bool
	CooldownTTL     time.Duration
	LockTTL         time.Duration

	// AllowPrivileged permits privileged actions (host isolation) when the
	// process also has admin rights.
	AllowPrivileged bool
	IsAdmin         bool
}

// Execute runs pb against the alert. Events may be destructive and the bus
// contract is at-most-once, so every alert gets exactly one attempt: gate
// rejections come back as ErrUnderCooldown, ErrLocked, or ErrPreconditions
// and are never retried.
func (e *Executor) Execute(ctx context.Context, pb *Playbook, alert map[string]any) (models.ExecutionResult, error) {
	res := models.ExecutionResult{
		ID:         uuid.NewString(),
		PlaybookID: pb.ID,
	}

	eventType := fmt.Sprint(alert["event_type"])
	severity := fmt.Sprint(alert["severity"])

	if e.CooldownEnabled && e.KV != nil {
		key := fmt.Sprintf("cooldown:%s:%s", eventType, severity)
		won, err := e.KV.TryClaim(ctx, key, e.CooldownTTL)
		if err != nil {
			// KV outage must not stall response actions.
			slog.Warn("Cooldown check failed, proceeding", "key", key, "error", err)
		} else if !won {
			return res, ErrUnderCooldown
		}
	}

	if e.KV != nil {
		lockKey := fmt.Sprintf("lock:exec:%v:%v", alert["agent_id"], alert["event_id"])
		won, err := e.KV.TryClaim(ctx, lockKey, e.LockTTL)
		if err != nil {
			slog.Warn("Execution lock check failed, proceeding", "key", lockKey, "error", err)
		} else if !won {
			return res, ErrLocked
		} else {
			defer func() {
				if err := e.KV.Release(context.WithoutCancel(ctx), lockKey); err != nil {
					slog.Warn("Failed to release execution lock", "key", lockKey, "error", err)
				}
			}()
		}
	}

	if !EvaluatePreconditions(pb.Preconditions, map[string]any{"alert": alert}) {
		return res, ErrPreconditions
	}

	e.Audit.Emit("execution_started", map[string]any{
		"id":          res.ID,
		"playbook_id": pb.ID,
		"alert_id":    alert["id"],
	})

	res.Success = true
	for _, step := range pb.Steps {
		sr := e.runStep(ctx, res.ID, step)
		res.Steps = append(res.Steps, sr)

		// A continue-step failure is recorded but does not fail the run;
		// only a halting failure does.
		if sr.Status == models.StepError && step.OnError != "continue" {
			res.Success = false
			e.rollback(ctx, pb, &res)
			break
		}
	}

	e.persist(res)
	e.Audit.Emit("execution_completed", map[string]any{
		"id":          res.ID,
		"playbook_id": pb.ID,
		"success":     res.Success,
		"rolled_back": res.RolledBack,
	})
	outcome := "success"
	if !res.Success {
		outcome = "failed"
	}
	metrics.PlaybookExecutions.WithLabelValues(outcome).Inc()
	return res, nil
}

func (e *Executor) runStep(ctx context.Context, execID string, step Step) models.StepResult {
	sr := models.StepResult{Step: step.Name, Action: step.Action}

	if e.Registry.Privileged(step.Action) && (!e.AllowPrivileged || !e.IsAdmin) {
		sr.Status = models.StepSkipped
		sr.Reason = "not_allowed_or_not_admin"
		e.Audit.Emit("step_skipped", map[string]any{
			"id": execID, "step": step.Name, "action": step.Action, "reason": sr.Reason,
		})
		return sr
	}

	fn, ok := e.Registry.Action(step.Action)
	if !ok {
		sr.Status = models.StepError
		sr.Error = fmt.Sprintf("unknown action %q", step.Action)
		e.Audit.Emit("step_error", map[string]any{
			"id": execID, "step": step.Name, "action": step.Action, "error": sr.Error,
		})
		return sr
	}

	out, err := fn(ctx, step.Params)
	sr.Output = out
	if err != nil {
		sr.Status = models.StepError
		sr.Error = err.Error()
		e.Audit.Emit("step_error", map[string]any{
			"id": execID, "step": step.Name, "action": step.Action, "error": sr.Error,
		})
		return sr
	}

	sr.Status = models.StepOK
	e.Audit.Emit("step_executed", map[string]any{
		"id": execID, "step": step.Name, "action": step.Action,
	})
	return sr
}

// rollback undoes the execution after a stop-on-error step. An explicit
// rollback list runs each listed action's registered rollback with its
// declared params; otherwise the successfully executed steps are reversed
// through their registered rollback handlers. Rollback errors are
// recorded, never cascaded.
func (e *Executor) rollback(ctx context.Context, pb *Playbook, res *models.ExecutionResult) {
	res.RolledBack = true

	if len(pb.Rollback) > 0 {
		for _, step := range pb.Rollback {
			sr := models.StepResult{Step: step.Name, Action: step.Action, Rollback: true}
			fn, ok := e.Registry.Rollback(step.Action)
			if !ok {
				sr.Status = models.StepSkipped
				sr.Reason = "no_rollback"
			} else if out, err := fn(ctx, step.Params); err != nil {
				sr.Status = models.StepError
				sr.Error = err.Error()
				sr.Output = out
			} else {
				sr.Status = models.StepOK
				sr.Output = out
			}
			e.auditRollback(res.ID, sr)
			res.Steps = append(res.Steps, sr)
		}
		return
	}

	for i := len(res.Steps) - 1; i >= 0; i-- {
		done := res.Steps[i]
		if done.Status != models.StepOK || done.Rollback {
			continue
		}
		sr := models.StepResult{Step: done.Step, Action: done.Action, Rollback: true}

		fn, ok := e.Registry.Rollback(done.Action)
		if !ok {
			sr.Status = models.StepSkipped
			sr.Reason = "no_rollback"
		} else {
			// The forward output carries what the rollback needs (quarantine
			// paths, rule names).
			params := map[string]any{}
			for k, v := range done.Output {
				params[k] = v
			}
			if out, err := fn(ctx, params); err != nil {
				sr.Status = models.StepError
				sr.Error = err.Error()
				sr.Output = out
			} else {
				sr.Status = models.StepOK
				sr.Output = out
			}
		}
		e.auditRollback(res.ID, sr)
		res.Steps = append(res.Steps, sr)
	}
}

func (e *Executor) auditRollback(execID string, sr models.StepResult) {
	event := "rollback_step"
	if sr.Status == models.StepError {
		event = "rollback_error"
	}
	fields := map[string]any{"id": execID, "step": sr.Step, "action": sr.Action}
	if sr.Error != "" {
		fields["error"] = sr.Error
	}
	if sr.Reason != "" {
		fields["reason"] = sr.Reason
	}
	e.Audit.Emit(event, fields)
}

func (e *Executor) persist(res models.ExecutionResult) {
	if e.Log == nil {
		return
	}
	if err := e.Log.Save(res); err != nil {
		slog.Error("Failed to persist execution result", "id", res.ID, "error", err)
	}
}
