package schemas

import "time"

// -- Compiled Intent Schemas --

// RiskCategory classifies an identified risk.
type RiskCategory string

const (
	RiskCatDataLoss            RiskCategory = "data_loss"
	RiskCatSecurityBreach      RiskCategory = "security_breach"
	RiskCatCostOverrun         RiskCategory = "cost_overrun"
	RiskCatTimelineSlip        RiskCategory = "timeline_slip"
	RiskCatIntegrationFailure  RiskCategory = "integration_failure"
	RiskCatComplianceViolation RiskCategory = "compliance_violation"
	RiskCatPerformanceIssue    RiskCategory = "performance_issue"
	RiskCatDependencyFailure   RiskCategory = "dependency_failure"
)

// IdentifiedRisk is a single risk found while assessing a plan.
type IdentifiedRisk struct {
	ID            string       `json:"id"`
	Category      RiskCategory `json:"category"`
	Description   string       `json:"description"`
	Probability   float64      `json:"probability"`
	Impact        RiskLevel    `json:"impact"`
	AffectedSteps []string     `json:"affected_steps,omitempty"`
}

// RiskAssessment aggregates step risk into a plan-level verdict.
// OverallRisk is always the maximum across steps, and human review is
// required exactly when OverallRisk is High or above.
type RiskAssessment struct {
	OverallRisk         RiskLevel        `json:"overall_risk"`
	Risks               []IdentifiedRisk `json:"risks,omitempty"`
	Mitigations         []string         `json:"mitigations,omitempty"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	ReviewReason        string           `json:"review_reason,omitempty"`
}

// ResourceEstimate predicts what executing a plan will consume.
type ResourceEstimate struct {
	ComputeHours     float64  `json:"compute_hours"`
	StorageGB        float64  `json:"storage_gb"`
	APICalls         int      `json:"api_calls"`
	LLMTokens        int      `json:"llm_tokens"`
	EstimatedCostUSD float64  `json:"estimated_cost_usd"`
	HumanHours       float64  `json:"human_hours"`
	MCPServersNeeded []string `json:"mcp_servers_needed,omitempty"`
	ExternalServices []string `json:"external_services,omitempty"`
}

// AlternativeInterpretation is an ambiguity branch: a different reading
// of the intent that the planner considered viable.
type AlternativeInterpretation struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	Confidence         float64  `json:"confidence"`
	PlanSummary        string   `json:"plan_summary,omitempty"`
	Pros               []string `json:"pros,omitempty"`
	Cons               []string `json:"cons,omitempty"`
	EstimatedCost      float64  `json:"estimated_cost,omitempty"`
	EstimatedTimeHours float64  `json:"estimated_time_hours,omitempty"`
}

// CompiledIntent is the complete output of one compile: the extracted
// entities, the plan, the generated BASIC program and the deterministic
// assessments. Created once and immutable after compile.
type CompiledIntent struct {
	ID               string                      `json:"id"`
	OriginalIntent   string                      `json:"original_intent"`
	Entities         IntentEntities              `json:"entities"`
	Plan             ExecutionPlan               `json:"plan"`
	BasicProgram     string                      `json:"basic_program"`
	Confidence       float64                     `json:"confidence"`
	Alternatives     []AlternativeInterpretation `json:"alternatives,omitempty"`
	RiskAssessment   RiskAssessment              `json:"risk_assessment"`
	ResourceEstimate ResourceEstimate            `json:"resource_estimate"`
	CompiledAt       time.Time                   `json:"compiled_at"`
	SessionID        string                      `json:"session_id"`
	BotID            string                      `json:"bot_id"`
}
