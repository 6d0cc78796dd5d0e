package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/config"
	"github.com/xkilldash9x/intentc/internal/store"
)

// scriptedLLM answers the entity and plan prompts with canned strings,
// keyed by system prompt.
type scriptedLLM struct {
	entityResponse string
	entityErr      error
	planResponse   string
	planErr        error
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	if req.SystemPrompt == entityExtractionSystemPrompt {
		return s.entityResponse, s.entityErr
	}
	return s.planResponse, s.planErr
}

const validEntityJSON = `{
	"action": "create",
	"target": "CRM",
	"domain": "retail",
	"client": "Acme",
	"features": ["contact management"],
	"technologies": ["postgres"]
}`

const validPlanJSON = `{
	"name": "CRM Build",
	"description": "Build a CRM",
	"steps": [
		{
			"id": "step-2",
			"order": 2,
			"name": "Persist schema",
			"description": "Write the schema",
			"keywords": ["SAVE"],
			"priority": "MEDIUM",
			"risk_level": "LOW",
			"dependencies": ["step-1"]
		},
		{
			"id": "step-1",
			"order": 1,
			"name": "Design schema",
			"description": "Design the CRM schema",
			"keywords": ["LLM"],
			"priority": "HIGH",
			"risk_level": "LOW",
			"estimated_minutes": 15
		}
	],
	"requires_approval": false,
	"estimated_duration_minutes": 30,
	"rollback_plan": "drop created tables"
}`

func newTestCompiler(t *testing.T, llm schemas.LLMClient) (*Compiler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	catalog := schemas.CapabilityCatalog{Keywords: schemas.DefaultKeywords(), MCPServers: []string{"crm"}}
	c, err := New(llm, mem, catalog, config.CompilerConfig{MaxPlanSteps: 10, DefaultStepMinutes: 5, LLMTokensPerCall: 1000}, zap.NewNop())
	require.NoError(t, err)
	return c, mem
}

func TestNew_Validation(t *testing.T) {
	mem := store.NewMemory()
	llm := &scriptedLLM{}

	_, err := New(nil, mem, schemas.CapabilityCatalog{}, config.CompilerConfig{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(llm, nil, schemas.CapabilityCatalog{}, config.CompilerConfig{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(llm, mem, schemas.CapabilityCatalog{}, config.CompilerConfig{}, nil)
	assert.Error(t, err)
}

func TestCompile_FullPipeline(t *testing.T) {
	llm := &scriptedLLM{entityResponse: validEntityJSON, planResponse: validPlanJSON}
	c, mem := newTestCompiler(t, llm)

	compiled, err := c.Compile(context.Background(), "build me a CRM for Acme", schemas.Session{ID: "sess-1", BotID: "bot-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, compiled.ID)
	assert.Equal(t, "build me a CRM for Acme", compiled.OriginalIntent)
	assert.Equal(t, "create", compiled.Entities.Action)
	assert.Equal(t, "Acme", compiled.Entities.Client)
	assert.Equal(t, 0.85, compiled.Confidence, "missing confidence falls back to the default")
	assert.Equal(t, "sess-1", compiled.SessionID)
	assert.Equal(t, "bot-1", compiled.BotID)

	// Steps come back sorted by order, with decode defaults applied.
	require.Len(t, compiled.Plan.Steps, 2)
	assert.Equal(t, "step-1", compiled.Plan.Steps[0].ID)
	assert.Equal(t, "step-2", compiled.Plan.Steps[1].ID)
	assert.Equal(t, 15, compiled.Plan.Steps[0].EstimatedMinutes)
	assert.Equal(t, 5, compiled.Plan.Steps[1].EstimatedMinutes, "missing estimate uses the configured default")
	assert.True(t, compiled.Plan.Steps[0].CanRollback, "can_rollback defaults to true")
	assert.Equal(t, 30, compiled.Plan.EstimatedDurationMinutes)
	assert.Equal(t, "drop created tables", compiled.Plan.RollbackPlan)

	assert.Equal(t, schemas.RiskLow, compiled.RiskAssessment.OverallRisk)
	assert.False(t, compiled.RiskAssessment.RequiresHumanReview)
	assert.Empty(t, compiled.Plan.ApprovalLevels)

	assert.Equal(t, 1000, compiled.ResourceEstimate.LLMTokens)
	assert.NotEmpty(t, compiled.BasicProgram)
	assert.NotEmpty(t, compiled.Plan.Steps[0].BasicCode)

	// Persisted under its own ID.
	stored, err := mem.GetCompiledIntent(context.Background(), compiled.ID)
	require.NoError(t, err)
	assert.Equal(t, compiled.OriginalIntent, stored.OriginalIntent)
}

func TestCompile_HighRiskRequiresReview(t *testing.T) {
	llm := &scriptedLLM{
		entityResponse: validEntityJSON,
		planResponse: `{
			"name": "Risky",
			"description": "Dangerous work",
			"steps": [
				{"id": "step-1", "order": 1, "name": "Drop tables", "description": "Drop everything", "keywords": ["DELETE"], "risk_level": "HIGH"}
			]
		}`,
	}
	c, _ := newTestCompiler(t, llm)

	compiled, err := c.Compile(context.Background(), "clean up the database", schemas.Session{ID: "s", BotID: "b"})
	require.NoError(t, err)

	assert.Equal(t, schemas.RiskHigh, compiled.RiskAssessment.OverallRisk)
	assert.True(t, compiled.RiskAssessment.RequiresHumanReview)
	require.Len(t, compiled.Plan.ApprovalLevels, 1)
	assert.Equal(t, "admin", compiled.Plan.ApprovalLevels[0].Approver)
}

func TestCompile_EntityFailureFallsBack(t *testing.T) {
	llm := &scriptedLLM{
		entityErr:    errors.New("provider unavailable"),
		planResponse: validPlanJSON,
	}
	c, _ := newTestCompiler(t, llm)

	compiled, err := c.Compile(context.Background(), "build me a CRM", schemas.Session{ID: "s", BotID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "create", compiled.Entities.Action)
	assert.Equal(t, "build me a CRM", compiled.Entities.Target)
}

func TestCompile_EntityBadJSONFallsBack(t *testing.T) {
	llm := &scriptedLLM{
		entityResponse: "I cannot answer in JSON, sorry",
		planResponse:   validPlanJSON,
	}
	c, _ := newTestCompiler(t, llm)

	compiled, err := c.Compile(context.Background(), "build me a CRM", schemas.Session{ID: "s", BotID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "build me a CRM", compiled.Entities.Target)
}

func TestCompile_PlanFailureIsFatal(t *testing.T) {
	t.Run("call failure", func(t *testing.T) {
		llm := &scriptedLLM{entityResponse: validEntityJSON, planErr: errors.New("provider down")}
		c, _ := newTestCompiler(t, llm)

		_, err := c.Compile(context.Background(), "x", schemas.Session{})
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "plan", ce.Stage)
	})

	t.Run("unparseable response", func(t *testing.T) {
		llm := &scriptedLLM{entityResponse: validEntityJSON, planResponse: "not json"}
		c, _ := newTestCompiler(t, llm)

		_, err := c.Compile(context.Background(), "x", schemas.Session{})
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "plan", ce.Stage)
		assert.Contains(t, ce.Reason, "parsing plan response")
	})

	t.Run("cyclic dependencies", func(t *testing.T) {
		llm := &scriptedLLM{
			entityResponse: validEntityJSON,
			planResponse: `{
				"name": "Cyclic",
				"description": "Bad graph",
				"steps": [
					{"id": "step-1", "order": 1, "name": "a", "description": "a", "dependencies": ["step-2"]},
					{"id": "step-2", "order": 2, "name": "b", "description": "b", "dependencies": ["step-1"]}
				]
			}`,
		}
		c, _ := newTestCompiler(t, llm)

		_, err := c.Compile(context.Background(), "x", schemas.Session{})
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "plan", ce.Stage)
		assert.Contains(t, ce.Reason, "dependency cycle")
	})
}

// failingStore accepts nothing.
type failingStore struct {
	*store.Memory
}

func (f *failingStore) SaveCompiledIntent(context.Context, *schemas.CompiledIntent) error {
	return errors.New("disk full")
}

func TestCompile_StoreFailure(t *testing.T) {
	llm := &scriptedLLM{entityResponse: validEntityJSON, planResponse: validPlanJSON}
	catalog := schemas.CapabilityCatalog{Keywords: schemas.DefaultKeywords()}
	c, err := New(llm, &failingStore{store.NewMemory()}, catalog, config.CompilerConfig{}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Compile(context.Background(), "x", schemas.Session{})
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "store", ce.Stage)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCompile_TruncatesOversizedPlans(t *testing.T) {
	llm := &scriptedLLM{
		entityResponse: validEntityJSON,
		planResponse: `{
			"name": "Big",
			"description": "Too many steps",
			"steps": [
				{"id": "step-1", "order": 1, "name": "a", "description": "a"},
				{"id": "step-2", "order": 2, "name": "b", "description": "b"},
				{"id": "step-3", "order": 3, "name": "c", "description": "c"}
			]
		}`,
	}
	mem := store.NewMemory()
	catalog := schemas.CapabilityCatalog{Keywords: schemas.DefaultKeywords()}
	c, err := New(llm, mem, catalog, config.CompilerConfig{MaxPlanSteps: 2, DefaultStepMinutes: 5, LLMTokensPerCall: 1000}, zap.NewNop())
	require.NoError(t, err)

	compiled, err := c.Compile(context.Background(), "x", schemas.Session{})
	require.NoError(t, err)
	assert.Len(t, compiled.Plan.Steps, 2)
}

func TestCompile_PlanConfidenceAndAlternatives(t *testing.T) {
	llm := &scriptedLLM{
		entityResponse: validEntityJSON,
		planResponse: `{
			"name": "Ambiguous",
			"description": "Two readings",
			"steps": [{"id": "step-1", "order": 1, "name": "a", "description": "a"}],
			"confidence": 0.62,
			"alternatives": [
				{"description": "interpret as a report instead", "confidence": 0.3, "plan_summary": "generate a report"}
			]
		}`,
	}
	c, _ := newTestCompiler(t, llm)

	compiled, err := c.Compile(context.Background(), "x", schemas.Session{})
	require.NoError(t, err)
	assert.Equal(t, 0.62, compiled.Confidence)
	require.Len(t, compiled.Alternatives, 1)
	assert.NotEmpty(t, compiled.Alternatives[0].ID)
	assert.Equal(t, "interpret as a report instead", compiled.Alternatives[0].Description)
}
