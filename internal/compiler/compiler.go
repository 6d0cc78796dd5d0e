// File: internal/compiler/compiler.go

// Package compiler turns a free-text user intent into a CompiledIntent:
// structured entities, a dependency-ordered execution plan, a generated
// BASIC program, and deterministic risk/resource assessments.
package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/config"
)

// CompileError is the structured failure surfaced to callers. Stage is
// one of "entities", "plan", "codegen", "store".
type CompileError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compile failed at %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("compile failed at %s: %s", e.Stage, e.Reason)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compiler orchestrates entity extraction, plan generation, codegen and
// the deterministic assessments into one CompiledIntent. Compiles hold
// no shared mutable state, so concurrent calls are safe.
type Compiler struct {
	llm     schemas.LLMClient
	store   schemas.IntentStore
	catalog schemas.CapabilityCatalog
	cfg     config.CompilerConfig
	logger  *zap.Logger
	// now is injected so codegen output is reproducible in tests.
	now func() time.Time
}

// New constructs a Compiler. The capability catalog is captured once and
// treated as immutable for the compiler's lifetime.
func New(llm schemas.LLMClient, store schemas.IntentStore, catalog schemas.CapabilityCatalog, cfg config.CompilerConfig, logger *zap.Logger) (*Compiler, error) {
	if llm == nil {
		return nil, fmt.Errorf("compiler requires an LLM client")
	}
	if store == nil {
		return nil, fmt.Errorf("compiler requires a store")
	}
	if logger == nil {
		return nil, fmt.Errorf("compiler requires a logger")
	}
	if cfg.MaxPlanSteps <= 0 {
		cfg.MaxPlanSteps = 50
	}
	if cfg.DefaultStepMinutes <= 0 {
		cfg.DefaultStepMinutes = 5
	}
	if cfg.LLMTokensPerCall <= 0 {
		cfg.LLMTokensPerCall = 1000
	}
	return &Compiler{
		llm:     llm,
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.Named("compiler"),
		now:     time.Now,
	}, nil
}

// Compile runs the full pipeline: extract entities, generate a plan,
// verify the dependency graph, generate the program, assess risk,
// estimate resources, and persist the result.
func (c *Compiler) Compile(ctx context.Context, intent string, sess schemas.Session) (*schemas.CompiledIntent, error) {
	start := c.now()
	c.logger.Info("Compiling intent",
		zap.String("session_id", sess.ID),
		zap.String("bot_id", sess.BotID),
		zap.Int("intent_len", len(intent)))

	// Entity extraction is best-effort and never fatal.
	entities := c.extractEntities(ctx, intent)

	plan, confidence, alternatives, err := c.generatePlan(ctx, intent, entities)
	if err != nil {
		return nil, err
	}

	if err := validateDependencies(plan); err != nil {
		return nil, &CompileError{Stage: "plan", Reason: err.Error()}
	}

	program := GenerateProgram(plan, entities, c.now().UTC())
	for i := range plan.Steps {
		plan.Steps[i].BasicCode = generateStepCode(&plan.Steps[i])
	}

	assessment := AssessRisks(plan)
	estimate := EstimateResources(plan, c.cfg.LLMTokensPerCall)

	compiled := &schemas.CompiledIntent{
		ID:               uuid.NewString(),
		OriginalIntent:   intent,
		Entities:         entities,
		Plan:             *plan,
		BasicProgram:     program,
		Confidence:       confidence,
		Alternatives:     alternatives,
		RiskAssessment:   assessment,
		ResourceEstimate: estimate,
		CompiledAt:       c.now().UTC(),
		SessionID:        sess.ID,
		BotID:            sess.BotID,
	}

	if err := c.store.SaveCompiledIntent(ctx, compiled); err != nil {
		return nil, &CompileError{Stage: "store", Reason: "persisting compiled intent", Err: err}
	}

	c.logger.Info("Intent compiled",
		zap.String("compiled_intent_id", compiled.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.String("overall_risk", assessment.OverallRisk.String()),
		zap.Bool("requires_human_review", assessment.RequiresHumanReview),
		zap.Duration("duration", c.now().Sub(start)))

	return compiled, nil
}
