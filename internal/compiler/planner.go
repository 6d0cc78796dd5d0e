// File: internal/compiler/planner.go
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
)

const planGenerationSystemPrompt = `You generate execution plans for a chatbot automation platform. Respond ONLY with valid JSON.`

// defaultConfidence stands in when the planner response omits a
// confidence score.
const defaultConfidence = 0.85

// planResponse is the wire shape the plan prompt requests. Optional
// fields tolerate model output that omits them; the decoder fills the
// documented defaults.
type planResponse struct {
	Name                     string             `json:"name"`
	Description              string             `json:"description"`
	Steps                    []planStepResponse `json:"steps"`
	RequiresApproval         *bool              `json:"requires_approval"`
	EstimatedDurationMinutes *int               `json:"estimated_duration_minutes"`
	RollbackPlan             string             `json:"rollback_plan"`
	Confidence               *float64           `json:"confidence"`
	Alternatives             []altResponse      `json:"alternatives"`
}

type planStepResponse struct {
	ID               string                `json:"id"`
	Order            int                   `json:"order"`
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	Keywords         []string              `json:"keywords"`
	Priority         string                `json:"priority"`
	RiskLevel        string                `json:"risk_level"`
	EstimatedMinutes *int                  `json:"estimated_minutes"`
	RequiresApproval *bool                 `json:"requires_approval"`
	CanRollback      *bool                 `json:"can_rollback"`
	Dependencies     []string              `json:"dependencies"`
	Outputs          []string              `json:"outputs"`
	MCPServers       []string              `json:"mcp_servers"`
	APICalls         []schemas.APICallSpec `json:"api_calls"`
}

type altResponse struct {
	Description        string   `json:"description"`
	Confidence         float64  `json:"confidence"`
	PlanSummary        string   `json:"plan_summary"`
	Pros               []string `json:"pros"`
	Cons               []string `json:"cons"`
	EstimatedCost      float64  `json:"estimated_cost"`
	EstimatedTimeHours float64  `json:"estimated_time_hours"`
}

func buildPlanPrompt(intent string, entities schemas.IntentEntities, catalog schemas.CapabilityCatalog, maxSteps int) string {
	domain := entities.Domain
	if domain == "" {
		domain = "general"
	}
	client := entities.Client
	if client == "" {
		client = "none"
	}

	return fmt.Sprintf(`Generate an execution plan for this task.

Original Request: %q

Extracted Information:
- Action: %s
- Target: %s
- Domain: %s
- Client: %s
- Features: %v
- Technologies: %v
- Integrations: %v

Available BASIC Keywords: %s
Available MCP Servers: %s

Generate a detailed execution plan as JSON:
{
    "name": "short plan name",
    "description": "brief description",
    "steps": [
        {
            "id": "step-1",
            "order": 1,
            "name": "Step name",
            "description": "What this step does",
            "keywords": ["BASIC keywords this step uses"],
            "priority": "CRITICAL|HIGH|MEDIUM|LOW|OPTIONAL",
            "risk_level": "NONE|LOW|MEDIUM|HIGH|CRITICAL",
            "estimated_minutes": 5,
            "requires_approval": false,
            "can_rollback": true,
            "dependencies": [],
            "outputs": ["variables/resources produced"],
            "mcp_servers": ["MCP servers needed"],
            "api_calls": []
        }
    ],
    "requires_approval": false,
    "estimated_duration_minutes": 60,
    "rollback_plan": "how to undo if needed",
    "confidence": 0.9,
    "alternatives": [
        {"description": "a different viable interpretation", "confidence": 0.4, "plan_summary": "", "pros": [], "cons": []}
    ]
}

Maximum %d steps. Focus on practical, executable steps.
Respond ONLY with valid JSON.`,
		intent,
		entities.Action,
		entities.Target,
		domain,
		client,
		entities.Features,
		entities.Technologies,
		entities.Integrations,
		strings.Join(catalog.Keywords, ", "),
		strings.Join(catalog.MCPServers, ", "),
		maxSteps)
}

// generatePlan performs the second LLM round-trip. Unlike entity
// extraction, a parse failure here is fatal: no plan means nothing to
// execute.
func (c *Compiler) generatePlan(ctx context.Context, intent string, entities schemas.IntentEntities) (*schemas.ExecutionPlan, float64, []schemas.AlternativeInterpretation, error) {
	response, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planGenerationSystemPrompt,
		UserPrompt:   buildPlanPrompt(intent, entities, c.catalog, c.cfg.MaxPlanSteps),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return nil, 0, nil, &CompileError{Stage: "plan", Reason: "plan generation call failed", Err: err}
	}

	var pr planResponse
	if err := json.Unmarshal([]byte(response), &pr); err != nil {
		return nil, 0, nil, &CompileError{Stage: "plan", Reason: "parsing plan response", Err: err}
	}

	if len(pr.Steps) > c.cfg.MaxPlanSteps {
		c.logger.Warn("Plan exceeds step limit, truncating",
			zap.Int("steps", len(pr.Steps)), zap.Int("max", c.cfg.MaxPlanSteps))
		pr.Steps = pr.Steps[:c.cfg.MaxPlanSteps]
	}

	steps := make([]schemas.PlanStep, 0, len(pr.Steps))
	for _, s := range pr.Steps {
		step := schemas.PlanStep{
			ID:               s.ID,
			Order:            s.Order,
			Name:             s.Name,
			Description:      s.Description,
			Keywords:         s.Keywords,
			Priority:         schemas.ParseStepPriority(s.Priority),
			RiskLevel:        schemas.ParseRiskLevel(s.RiskLevel),
			EstimatedMinutes: c.cfg.DefaultStepMinutes,
			RequiresApproval: false,
			CanRollback:      true,
			Dependencies:     s.Dependencies,
			Outputs:          s.Outputs,
			MCPServers:       s.MCPServers,
			APICalls:         s.APICalls,
		}
		if s.EstimatedMinutes != nil {
			step.EstimatedMinutes = *s.EstimatedMinutes
		}
		if s.RequiresApproval != nil {
			step.RequiresApproval = *s.RequiresApproval
		}
		if s.CanRollback != nil {
			step.CanRollback = *s.CanRollback
		}
		steps = append(steps, step)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	dependencies := make(map[string][]string, len(steps))
	for _, step := range steps {
		dependencies[step.ID] = step.Dependencies
	}

	plan := &schemas.ExecutionPlan{
		ID:                       uuid.NewString(),
		Name:                     pr.Name,
		Description:              pr.Description,
		Steps:                    steps,
		Dependencies:             dependencies,
		EstimatedDurationMinutes: 60,
		RequiresApproval:         false,
		ApprovalLevels:           DetermineApprovalLevels(steps),
		RollbackPlan:             pr.RollbackPlan,
	}
	if pr.EstimatedDurationMinutes != nil {
		plan.EstimatedDurationMinutes = *pr.EstimatedDurationMinutes
	}
	if pr.RequiresApproval != nil {
		plan.RequiresApproval = *pr.RequiresApproval
	}

	confidence := defaultConfidence
	if pr.Confidence != nil && *pr.Confidence > 0 && *pr.Confidence <= 1 {
		confidence = *pr.Confidence
	}

	alternatives := make([]schemas.AlternativeInterpretation, 0, len(pr.Alternatives))
	for _, a := range pr.Alternatives {
		alternatives = append(alternatives, schemas.AlternativeInterpretation{
			ID:                 uuid.NewString(),
			Description:        a.Description,
			Confidence:         a.Confidence,
			PlanSummary:        a.PlanSummary,
			Pros:               a.Pros,
			Cons:               a.Cons,
			EstimatedCost:      a.EstimatedCost,
			EstimatedTimeHours: a.EstimatedTimeHours,
		})
	}

	return plan, confidence, alternatives, nil
}
