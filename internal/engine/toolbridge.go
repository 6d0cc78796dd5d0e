// File: internal/engine/toolbridge.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// ToolBridge is a ScriptEngine that executes steps declaring MCP
// servers by invoking a tool on each of them, and delegates everything
// else to a fallback engine. It stands between the task engine and the
// external DSL interpreter until one is wired.
type ToolBridge struct {
	invoker  schemas.ToolInvoker
	fallback schemas.ScriptEngine
	logger   *zap.Logger
}

var _ schemas.ScriptEngine = (*ToolBridge)(nil)

// NewToolBridge builds a ToolBridge over the given invoker and fallback
// engine.
func NewToolBridge(invoker schemas.ToolInvoker, fallback schemas.ScriptEngine, logger *zap.Logger) (*ToolBridge, error) {
	if invoker == nil {
		return nil, errors.New("tool invoker cannot be nil")
	}
	if fallback == nil {
		return nil, errors.New("fallback script engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolBridge{
		invoker:  invoker,
		fallback: fallback,
		logger:   logger.Named("tool_bridge"),
	}, nil
}

// ExecuteStep invokes execute_step on each MCP server the step names
// and returns the per-server results keyed by server name. Steps with
// no MCP servers go to the fallback engine.
func (b *ToolBridge) ExecuteStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, program string) (schemas.StepOutcome, error) {
	if len(step.MCPServers) == 0 {
		return b.fallback.ExecuteStep(ctx, task, step, program)
	}

	results := make(map[string]json.RawMessage, len(step.MCPServers))
	for _, server := range step.MCPServers {
		args := map[string]any{
			"task_id":     task.ID,
			"step_id":     step.ID,
			"description": step.Description,
			"keywords":    step.Keywords,
		}
		result, err := b.invoker.Invoke(ctx, server, "execute_step", args)
		if err != nil {
			return schemas.StepOutcome{}, fmt.Errorf("invoking %s for step %s: %w", server, step.ID, err)
		}
		results[server] = result
		b.logger.Debug("MCP tool invoked",
			zap.String("task_id", task.ID),
			zap.String("step_id", step.ID),
			zap.String("server", server))
	}

	output, err := json.Marshal(results)
	if err != nil {
		return schemas.StepOutcome{}, fmt.Errorf("marshaling tool results: %w", err)
	}
	rollback, _ := json.Marshal(map[string]any{"step_id": step.ID, "servers": step.MCPServers})
	return schemas.StepOutcome{Output: output, RollbackData: rollback}, nil
}

// RollbackStep invokes rollback_step on each server the step used, in
// reverse declaration order. The first failure aborts the rollback.
func (b *ToolBridge) RollbackStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, rollbackData json.RawMessage) error {
	if len(step.MCPServers) == 0 {
		return b.fallback.RollbackStep(ctx, task, step, rollbackData)
	}

	for i := len(step.MCPServers) - 1; i >= 0; i-- {
		server := step.MCPServers[i]
		args := map[string]any{
			"task_id": task.ID,
			"step_id": step.ID,
		}
		if len(rollbackData) > 0 {
			args["rollback_data"] = json.RawMessage(rollbackData)
		}
		if _, err := b.invoker.Invoke(ctx, server, "rollback_step", args); err != nil {
			return fmt.Errorf("rolling back %s on %s: %w", step.ID, server, err)
		}
	}
	return nil
}
