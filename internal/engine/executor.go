// File: internal/engine/executor.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/safety"
)

// runTask drives one task as far as it can go in this invocation: to
// completion, to a human gate, or to failure. Tasks parked at a gate
// come back through here when the gate resolves.
func (e *Engine) runTask(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading task %s: %w", taskID, err)
	}

	switch task.Status {
	case schemas.TaskPending:
		return e.startTask(ctx, task)
	case schemas.TaskExecuting:
		ci, err := e.store.GetCompiledIntent(ctx, task.CompiledIntentID)
		if err != nil {
			return e.failTask(ctx, task, schemas.TaskExecuting, "COMPILED_INTENT_MISSING", err.Error(), "")
		}
		return e.execute(ctx, task, ci)
	default:
		// Parked, terminal, or picked up twice after a race. Nothing
		// to do; the resolving action re-queues parked tasks.
		e.logger.Debug("Task not runnable in current status",
			zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
		return nil
	}
}

// startTask walks a fresh task through Compiling and either parks it
// at the plan-level approval gate or starts executing.
func (e *Engine) startTask(ctx context.Context, task *schemas.AutoTask) error {
	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditTaskStarted, "compilation check started", true)); err != nil {
		return err
	}
	if err := e.store.TransitionTask(ctx, task.ID, schemas.TaskPending, schemas.TaskCompiling); err != nil {
		if errors.Is(err, schemas.ErrConflict) {
			return nil
		}
		return err
	}
	task.Status = schemas.TaskCompiling

	ci, err := e.store.GetCompiledIntent(ctx, task.CompiledIntentID)
	if err != nil {
		return e.failTask(ctx, task, schemas.TaskCompiling, "COMPILED_INTENT_MISSING", err.Error(), "")
	}

	if planNeedsApproval(ci) {
		return e.parkForPlanApproval(ctx, task, ci)
	}

	now := time.Now().UTC()
	task.StartedAt = &now
	if err := e.store.TransitionTask(ctx, task.ID, schemas.TaskCompiling, schemas.TaskExecuting); err != nil {
		return err
	}
	task.Status = schemas.TaskExecuting
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	return e.execute(ctx, task, ci)
}

func planNeedsApproval(ci *schemas.CompiledIntent) bool {
	if ci.Plan.RequiresApproval || len(ci.Plan.ApprovalLevels) > 0 {
		return true
	}
	return false
}

// parkForPlanApproval creates one PendingApproval per plan approval
// level (or a synthetic plan-level gate) and parks the task.
func (e *Engine) parkForPlanApproval(ctx context.Context, task *schemas.AutoTask, ci *schemas.CompiledIntent) error {
	levels := ci.Plan.ApprovalLevels
	if len(levels) == 0 {
		levels = []schemas.ApprovalLevel{{
			Level:          1,
			Approver:       "admin",
			Reason:         "Plan requires approval before execution",
			TimeoutMinutes: 60,
			DefaultAction:  schemas.ApprovalActionPause,
		}}
	}

	now := time.Now().UTC()
	for _, level := range levels {
		approval := &schemas.PendingApproval{
			ID:            uuid.NewString(),
			TaskID:        task.ID,
			Reason:        level.Reason,
			RiskLevel:     ci.RiskAssessment.OverallRisk,
			Approver:      level.Approver,
			Status:        schemas.ApprovalPending,
			DefaultAction: level.DefaultAction,
			RequestedAt:   now,
			ExpiresAt:     now.Add(time.Duration(level.TimeoutMinutes) * time.Minute),
		}
		if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditApprovalRequested,
			fmt.Sprintf("plan approval requested from %s", level.Approver), true)); err != nil {
			return err
		}
		if err := e.store.CreateApproval(ctx, approval); err != nil {
			return fmt.Errorf("creating approval: %w", err)
		}
	}

	if err := e.store.TransitionTask(ctx, task.ID, task.Status, schemas.TaskAwaitingApproval); err != nil {
		return err
	}
	e.logger.Info("Task parked for plan approval",
		zap.String("task_id", task.ID), zap.Int("gates", len(levels)))
	return nil
}

// execute runs the plan's steps in dependency order. Steps whose
// dependencies are not yet complete are deferred to a later pass; a
// pass that makes no progress with steps remaining fails the task.
func (e *Engine) execute(ctx context.Context, task *schemas.AutoTask, ci *schemas.CompiledIntent) error {
	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
		if err := e.store.UpdateTask(ctx, task); err != nil {
			return err
		}
	}

	completed := make(map[string]bool, len(task.StepResults))
	for _, result := range task.StepResults {
		if result.Status == schemas.StepCompleted || result.Status == schemas.StepSkipped {
			completed[result.StepID] = true
		}
	}

	var pending []schemas.PlanStep
	for _, step := range ci.Plan.Steps {
		if !completed[step.ID] {
			pending = append(pending, step)
		}
	}

	for len(pending) > 0 {
		progress := false
		var deferred []schemas.PlanStep

		for _, step := range pending {
			// Cooperative cancel/pause: re-read status before every step.
			current, err := e.store.GetTask(ctx, task.ID)
			if err != nil {
				return err
			}
			if current.Status != schemas.TaskExecuting {
				e.logger.Info("Task no longer executing, yielding",
					zap.String("task_id", task.ID), zap.String("status", string(current.Status)))
				return nil
			}
			task = current

			if !depsMet(step, completed) {
				deferred = append(deferred, step)
				continue
			}

			parked, err := e.gateStep(ctx, task, step)
			if err != nil {
				return err
			}
			if parked {
				return nil
			}

			outcome, attempts, runErr := e.runStep(ctx, task, step, ci.BasicProgram)
			if runErr != nil {
				return e.failStep(ctx, task, ci, step, attempts, runErr)
			}
			if outcome.Ambiguity != nil {
				return e.raiseDecision(ctx, task, step, outcome.Ambiguity)
			}

			if err := e.recordStepSuccess(ctx, task, step, attempts, outcome); err != nil {
				return err
			}
			completed[step.ID] = true
			progress = true
		}

		if !progress && len(deferred) > 0 {
			return e.failTask(ctx, task, schemas.TaskExecuting, "DEPENDENCY_DEADLOCK",
				fmt.Sprintf("%d step(s) have unsatisfiable dependencies", len(deferred)), deferred[0].ID)
		}
		pending = deferred
	}

	return e.completeTask(ctx, task)
}

func depsMet(step schemas.PlanStep, completed map[string]bool) bool {
	for _, dep := range step.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// gateStep applies the per-step human gates: an explicit approval
// requirement, and the simulation gate for steps at or above the
// configured approval risk threshold. Returns true when the task was
// parked.
func (e *Engine) gateStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep) (bool, error) {
	approvals, err := e.store.ListApprovals(ctx, task.ID)
	if err != nil {
		return false, err
	}
	for _, a := range approvals {
		if a.StepID == step.ID && a.Status == schemas.ApprovalApproved {
			// Already approved, either gate is satisfied.
			return false, nil
		}
	}

	safetyCfg := e.cfg.Safety()

	if step.RiskLevel >= safetyCfg.ApprovalThreshold {
		score := safety.StepRiskScore(step)
		if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditSimulationCompleted,
			fmt.Sprintf("step %s simulated with risk score %.2f", step.ID, score), true)); err != nil {
			return false, err
		}
		if score > safetyCfg.ReviewThreshold {
			prediction := safety.SimulateStep(step, safetyCfg.ReviewThreshold)
			reason := fmt.Sprintf("Simulation scored %.2f (threshold %.2f) for step %q", score, safetyCfg.ReviewThreshold, step.Name)
			if len(prediction.SideEffects) > 0 {
				reason += ": " + prediction.SideEffects[0]
			}
			return true, e.parkForStepApproval(ctx, task, step, reason)
		}
	}

	if step.RequiresApproval {
		return true, e.parkForStepApproval(ctx, task, step,
			fmt.Sprintf("Step %q requires approval before execution", step.Name))
	}
	return false, nil
}

func (e *Engine) parkForStepApproval(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, reason string) error {
	now := time.Now().UTC()
	approval := &schemas.PendingApproval{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		StepID:        step.ID,
		Reason:        reason,
		RiskLevel:     step.RiskLevel,
		Approver:      "admin",
		Status:        schemas.ApprovalPending,
		DefaultAction: schemas.ApprovalActionPause,
		RequestedAt:   now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditApprovalRequested, reason, true)); err != nil {
		return err
	}
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return fmt.Errorf("creating step approval: %w", err)
	}
	if err := e.store.TransitionTask(ctx, task.ID, schemas.TaskExecuting, schemas.TaskAwaitingApproval); err != nil {
		return err
	}
	e.logger.Info("Task parked for step approval",
		zap.String("task_id", task.ID), zap.String("step_id", step.ID))
	return nil
}

// retryPolicyFor picks the retry bounds for a step. A step declaring
// API calls may carry its own policy; the first call with explicit
// bounds wins, with unset fields filled from the default.
func retryPolicyFor(step schemas.PlanStep) schemas.RetryConfig {
	def := schemas.DefaultRetryConfig()
	for _, call := range step.APICalls {
		rc := call.Retry
		if rc.MaxRetries <= 0 && rc.BackoffMs <= 0 {
			continue
		}
		if rc.MaxRetries <= 0 {
			rc.MaxRetries = def.MaxRetries
		}
		if rc.BackoffMs <= 0 {
			rc.BackoffMs = def.BackoffMs
		}
		if len(rc.RetryOnStatus) == 0 {
			rc.RetryOnStatus = def.RetryOnStatus
		}
		return rc
	}
	return def
}

// runStep executes one step with a timeout, retrying transient
// failures. In simulated mode the script engine is bypassed entirely.
func (e *Engine) runStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, program string) (schemas.StepOutcome, int, error) {
	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditStepStarted,
		fmt.Sprintf("step %s (%s) started", step.ID, step.Name), true)); err != nil {
		return schemas.StepOutcome{}, 0, err
	}

	if task.Mode == schemas.ModeSimulated {
		prediction := safety.SimulateStep(step, e.cfg.Safety().ReviewThreshold)
		output, _ := json.Marshal(prediction)
		return schemas.StepOutcome{Output: output}, 1, nil
	}

	timeout := e.cfg.Engine().DefaultStepTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	policy := backoff.WithContext(e.backoffFactory(retryPolicyFor(step)), ctx)

	var outcome schemas.StepOutcome
	attempts := 0
	operation := func() error {
		attempts++
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := e.script.ExecuteStep(stepCtx, task, step, program)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			e.logger.Warn("Step attempt failed",
				zap.String("task_id", task.ID),
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		outcome = out
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err == nil && len(step.MCPServers) > 0 {
		if auditErr := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditMCPInvoked,
			fmt.Sprintf("step %s used MCP server(s): %s", step.ID, strings.Join(step.MCPServers, ", ")), true)); auditErr != nil {
			return outcome, attempts, auditErr
		}
	}
	return outcome, attempts, err
}

func (e *Engine) recordStepSuccess(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, attempts int, outcome schemas.StepOutcome) error {
	now := time.Now().UTC()
	result := schemas.StepExecutionResult{
		StepID:       step.ID,
		StepOrder:    step.Order,
		StepName:     step.Name,
		Status:       schemas.StepCompleted,
		StartedAt:    now,
		CompletedAt:  &now,
		Output:       outcome.Output,
		Attempts:     attempts,
		CanRollback:  step.CanRollback,
		RollbackData: outcome.RollbackData,
	}

	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditStepCompleted,
		fmt.Sprintf("step %s (%s) completed", step.ID, step.Name), true)); err != nil {
		return err
	}

	task.StepResults = append(task.StepResults, result)
	task.Cursor = len(task.StepResults)
	return e.store.UpdateTask(ctx, task)
}

// raiseDecision parks the task on an ambiguous step outcome. The
// cursor does not advance: resolution re-runs execute, which skips
// completed steps and retries this one.
func (e *Engine) raiseDecision(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, ambiguity *schemas.Ambiguity) error {
	now := time.Now().UTC()
	decision := &schemas.PendingDecision{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		StepID:    step.ID,
		Title:     ambiguity.Title,
		Options:   ambiguity.Options,
		Status:    schemas.DecisionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditDecisionRequested,
		fmt.Sprintf("step %s raised ambiguity: %s", step.ID, ambiguity.Title), true)); err != nil {
		return err
	}
	if err := e.store.CreateDecision(ctx, decision); err != nil {
		return fmt.Errorf("creating decision: %w", err)
	}
	if err := e.store.TransitionTask(ctx, task.ID, schemas.TaskExecuting, schemas.TaskAwaitingDecision); err != nil {
		return err
	}
	e.logger.Info("Task awaiting decision",
		zap.String("task_id", task.ID), zap.String("decision_id", decision.ID))
	return nil
}

// failStep records the failed step, rolls back what can be undone, and
// fails the task.
func (e *Engine) failStep(ctx context.Context, task *schemas.AutoTask, ci *schemas.CompiledIntent, step schemas.PlanStep, attempts int, cause error) error {
	now := time.Now().UTC()
	task.StepResults = append(task.StepResults, schemas.StepExecutionResult{
		StepID:      step.ID,
		StepOrder:   step.Order,
		StepName:    step.Name,
		Status:      schemas.StepFailed,
		StartedAt:   now,
		CompletedAt: &now,
		Error:       cause.Error(),
		Attempts:    attempts,
		CanRollback: step.CanRollback,
	})

	entry := safety.System(task.ID, schemas.AuditStepFailed,
		fmt.Sprintf("step %s failed after %d attempt(s)", step.ID, attempts), false)
	entry.Outcome.Error = cause.Error()
	if err := e.auditor.Record(ctx, entry); err != nil {
		return err
	}

	report := e.rollback(ctx, task, ci)
	task.RolledBackSteps = report.RolledBack

	return e.failTask(ctx, task, schemas.TaskExecuting, "STEP_FAILED", cause.Error(), step.ID)
}

// rollback undoes completed rollback-capable steps in reverse
// completion order. StepResults append in completion order, so the
// reverse walk is the undo order.
func (e *Engine) rollback(ctx context.Context, task *schemas.AutoTask, ci *schemas.CompiledIntent) *RollbackReport {
	stepsByID := make(map[string]schemas.PlanStep, len(ci.Plan.Steps))
	for _, step := range ci.Plan.Steps {
		stepsByID[step.ID] = step
	}

	report := &RollbackReport{}
	for i := len(task.StepResults) - 1; i >= 0; i-- {
		result := &task.StepResults[i]
		if result.Status != schemas.StepCompleted {
			continue
		}
		step := stepsByID[result.StepID]
		if !result.CanRollback {
			report.NotRollbackable = append(report.NotRollbackable, result.StepID)
			continue
		}

		if err := e.script.RollbackStep(ctx, task, step, result.RollbackData); err != nil {
			e.logger.Error("Rollback failed for step",
				zap.String("task_id", task.ID), zap.String("step_id", result.StepID), zap.Error(err))
			report.NotRollbackable = append(report.NotRollbackable, result.StepID)
			continue
		}

		result.Status = schemas.StepRolledBack
		report.RolledBack = append(report.RolledBack, result.StepID)
		if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditStepRolledBack,
			fmt.Sprintf("step %s rolled back", result.StepID), true)); err != nil {
			e.logger.Error("Failed to audit rollback", zap.Error(err))
		}
	}
	return report
}

func (e *Engine) completeTask(ctx context.Context, task *schemas.AutoTask) error {
	if err := e.auditor.Record(ctx, safety.System(task.ID, schemas.AuditTaskCompleted, "all steps completed", true)); err != nil {
		return err
	}
	if err := e.store.TransitionTask(ctx, task.ID, schemas.TaskExecuting, schemas.TaskCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	task.Status = schemas.TaskCompleted
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	e.logger.Info("Task completed",
		zap.String("task_id", task.ID), zap.Int("steps", len(task.StepResults)))
	return nil
}

// failTask audits the failure then moves the task to Failed with a
// structured error.
func (e *Engine) failTask(ctx context.Context, task *schemas.AutoTask, from schemas.AutoTaskStatus, code, message, stepID string) error {
	entry := safety.System(task.ID, schemas.AuditTaskFailed, message, false)
	entry.Outcome.Error = message
	if err := e.auditor.Record(ctx, entry); err != nil {
		return err
	}
	if err := e.store.TransitionTask(ctx, task.ID, from, schemas.TaskFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	task.Status = schemas.TaskFailed
	task.CompletedAt = &now
	task.Error = &schemas.TaskError{
		Code:       code,
		Message:    message,
		StepID:     stepID,
		OccurredAt: now,
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	e.logger.Warn("Task failed",
		zap.String("task_id", task.ID), zap.String("code", code), zap.String("message", message))
	return nil
}
