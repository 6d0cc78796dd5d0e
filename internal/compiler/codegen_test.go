package compiler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/intentc/api/schemas"
)

func fixedTime() time.Time {
	return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
}

func basicPlan() *schemas.ExecutionPlan {
	return &schemas.ExecutionPlan{
		ID:          "plan-1",
		Name:        "CRM Build",
		Description: "Build a CRM for a retail client",
		Steps: []schemas.PlanStep{
			{
				ID:          "step-1",
				Order:       1,
				Name:        "Gather requirements",
				Description: "Collect requirements from the client",
				Keywords:    []string{"LLM"},
				Priority:    schemas.PriorityHigh,
				RiskLevel:   schemas.RiskLow,
				Outputs:     []string{"requirements"},
			},
			{
				ID:          "step-2",
				Order:       2,
				Name:        "Provision database",
				Description: "Create the backing tables",
				Keywords:    []string{"CREATE_TASK", "SAVE"},
				Priority:    schemas.PriorityMedium,
				RiskLevel:   schemas.RiskMedium,
			},
		},
		Dependencies: map[string][]string{"step-2": {"step-1"}},
	}
}

func TestGenerateProgram_Deterministic(t *testing.T) {
	plan := basicPlan()
	entities := schemas.IntentEntities{Action: "create", Target: "CRM", Client: "Acme", Domain: "retail"}

	first := GenerateProgram(plan, entities, fixedTime())
	second := GenerateProgram(plan, entities, fixedTime())

	assert.Equal(t, first, second, "same plan, entities and timestamp must produce identical output")
}

func TestGenerateProgram_HeaderAndContext(t *testing.T) {
	plan := basicPlan()
	entities := schemas.IntentEntities{Action: "create", Target: "CRM", Client: "Acme", Domain: "retail"}

	program := GenerateProgram(plan, entities, fixedTime())

	assert.Contains(t, program, "' AUTO-GENERATED BASIC PROGRAM")
	assert.Contains(t, program, "' Plan: CRM Build")
	assert.Contains(t, program, "' Generated: 2025-03-14 09:30:00")
	assert.Contains(t, program, `PLAN_START "CRM Build", "Build a CRM for a retail client"`)
	assert.Contains(t, program, `  STEP 1, "Gather requirements", HIGH`)
	assert.Contains(t, program, `  STEP 2, "Provision database", MEDIUM`)
	assert.Contains(t, program, "PLAN_END")
	assert.Contains(t, program, `SET action = "create"`)
	assert.Contains(t, program, `SET target = "CRM"`)
	assert.Contains(t, program, `SET client = "Acme"`)
	assert.Contains(t, program, `SET domain = "retail"`)
	assert.Contains(t, program, `SET CONTEXT "Task: create CRM for Acme"`)
	assert.Contains(t, program, `TALK "Task completed successfully!"`)
	assert.Contains(t, program, `AUDIT_LOG "plan-complete", "plan-1", "success"`)
}

func TestGenerateProgram_NoClientDefaultsContext(t *testing.T) {
	plan := basicPlan()
	entities := schemas.IntentEntities{Action: "create", Target: "CRM"}

	program := GenerateProgram(plan, entities, fixedTime())

	assert.Contains(t, program, `SET CONTEXT "Task: create CRM for general use"`)
	assert.NotContains(t, program, "SET client =")
	assert.NotContains(t, program, "SET domain =")
}

func TestGenerateProgram_EmptyPlan(t *testing.T) {
	plan := &schemas.ExecutionPlan{ID: "plan-empty", Name: "Nothing", Description: "No steps"}
	entities := schemas.IntentEntities{Action: "create", Target: "nothing"}

	program := GenerateProgram(plan, entities, fixedTime())

	assert.Contains(t, program, "PLAN_START")
	assert.Contains(t, program, "PLAN_END")
	assert.NotContains(t, program, "AUDIT_LOG \"step-start\"")
	assert.Contains(t, program, `TALK "Task completed successfully!"`)
}

func TestGenerateStepCode_ApprovalScaffolding(t *testing.T) {
	step := schemas.PlanStep{
		ID:               "step-3",
		Order:            3,
		Name:             "Delete stale records",
		Description:      "Remove records older than a year",
		RequiresApproval: true,
		RiskLevel:        schemas.RiskMedium,
	}

	code := generateStepCode(&step)

	assert.Contains(t, code, `REQUIRE_APPROVAL "step-3", "Remove records older than a year"`)
	assert.Contains(t, code, "IF NOT approved THEN")
	assert.Contains(t, code, "  GOTO step_3_end")
	assert.Contains(t, code, "END IF")
	assert.Contains(t, code, "step_3_end:")
	assert.NotContains(t, code, "SIMULATE_IMPACT")
}

func TestGenerateStepCode_HighRiskSimulation(t *testing.T) {
	step := schemas.PlanStep{
		ID:          "step-4",
		Order:       4,
		Name:        "Drop legacy schema",
		Description: "Drop the deprecated schema",
		RiskLevel:   schemas.RiskHigh,
	}

	code := generateStepCode(&step)

	assert.Contains(t, code, `simulation_result = SIMULATE_IMPACT "step-4"`)
	assert.Contains(t, code, "IF simulation_result.risk_score > 0.7 THEN")
	assert.Contains(t, code, `REQUIRE_APPROVAL "high-risk-override", simulation_result.summary`)
}

func TestGenerateStepCode_NoKeywordsKeepsScaffolding(t *testing.T) {
	step := schemas.PlanStep{ID: "step-5", Order: 5, Name: "Wait for window", Description: "Idle until the window opens"}

	code := generateStepCode(&step)

	assert.Contains(t, code, `AUDIT_LOG "step-start", "step-5", "Wait for window"`)
	assert.Contains(t, code, `AUDIT_LOG "step-end", "step-5", "complete"`)
	assert.Contains(t, code, "step_5_end:")
}

func TestGenerateStepCode_Keywords(t *testing.T) {
	step := schemas.PlanStep{
		ID:          "step-6",
		Order:       6,
		Name:        "Sync upstream",
		Description: "Push updates upstream",
		Keywords:    []string{"llm", "POST", "USE_MCP", "FROBNICATE"},
		MCPServers:  []string{"crm-server"},
		APICalls: []schemas.APICallSpec{
			{Name: "sync", Method: "POST", URLTemplate: "https://api.example.com/sync"},
		},
		Outputs: []string{"synced"},
	}

	code := generateStepCode(&step)

	// Keyword matching is case-insensitive.
	assert.Contains(t, code, `llm_result_6 = LLM "Push updates upstream"`)
	assert.Contains(t, code, `POST "https://api.example.com/sync" INTO api_result_6`)
	assert.Contains(t, code, `mcp_result_6 = USE_MCP "crm-server", "Push updates upstream"`)
	assert.Contains(t, code, "' Using keyword: FROBNICATE")
	assert.Contains(t, code, "SET output_synced = result_6")
}

func TestGenerateProgram_EmbedsStepCode(t *testing.T) {
	plan := basicPlan()
	entities := schemas.IntentEntities{Action: "create", Target: "CRM"}

	program := GenerateProgram(plan, entities, fixedTime())

	for i := range plan.Steps {
		code := generateStepCode(&plan.Steps[i])
		require.True(t, strings.Contains(program, code), "program must embed step %d code verbatim", i+1)
	}
}
