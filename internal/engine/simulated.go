// File: internal/engine/simulated.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/safety"
)

// SimulatedEngine is a ScriptEngine that never touches the outside
// world: every step "runs" through the impact simulator and every
// rollback succeeds. It backs the serve command when no real DSL
// interpreter is wired, and the engine tests.
type SimulatedEngine struct {
	reviewThreshold float64
	logger          *zap.Logger
}

var _ schemas.ScriptEngine = (*SimulatedEngine)(nil)

// NewSimulatedEngine builds a SimulatedEngine with the given review
// threshold for its predictions.
func NewSimulatedEngine(reviewThreshold float64, logger *zap.Logger) *SimulatedEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedEngine{reviewThreshold: reviewThreshold, logger: logger.Named("simulated_engine")}
}

// ExecuteStep returns the step's simulated prediction as its output.
func (s *SimulatedEngine) ExecuteStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, _ string) (schemas.StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return schemas.StepOutcome{}, err
	}

	prediction := safety.SimulateStep(step, s.reviewThreshold)
	output, err := json.Marshal(prediction)
	if err != nil {
		return schemas.StepOutcome{}, fmt.Errorf("marshaling prediction: %w", err)
	}

	s.logger.Debug("Simulated step execution",
		zap.String("task_id", task.ID),
		zap.String("step_id", step.ID),
		zap.Float64("success_probability", prediction.SuccessProbability))

	rollback, _ := json.Marshal(map[string]string{"step_id": step.ID, "kind": "simulated"})
	return schemas.StepOutcome{Output: output, RollbackData: rollback}, nil
}

// RollbackStep always succeeds; there is nothing real to undo.
func (s *SimulatedEngine) RollbackStep(ctx context.Context, task *schemas.AutoTask, step schemas.PlanStep, _ json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debug("Simulated rollback",
		zap.String("task_id", task.ID), zap.String("step_id", step.ID))
	return nil
}
