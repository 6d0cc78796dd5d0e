package schemas

import "time"

// -- Safety Schemas --

// ConstraintSeverity grades how strongly a safety constraint binds.
type ConstraintSeverity string

const (
	SeverityInfo     ConstraintSeverity = "INFO"
	SeverityWarning  ConstraintSeverity = "WARNING"
	SeverityError    ConstraintSeverity = "ERROR"
	SeverityCritical ConstraintSeverity = "CRITICAL"
)

// SafetyConstraint is a runtime guard evaluated before a step runs.
// Expression is a "field operator value" condition evaluated against a
// JSON context; malformed expressions fail closed.
type SafetyConstraint struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	Severity    ConstraintSeverity `json:"severity"`
	Enabled     bool               `json:"enabled"`
	AppliesTo   []string           `json:"applies_to,omitempty"`
	BotID       string             `json:"bot_id,omitempty"`
}

// ConstraintViolation records one failed or unevaluable constraint.
type ConstraintViolation struct {
	ConstraintID string             `json:"constraint_id"`
	Name         string             `json:"name"`
	Severity     ConstraintSeverity `json:"severity"`
	Message      string             `json:"message"`
}

// ConstraintCheckResult is the ephemeral outcome of one constraint
// sweep. Blocking violations stop the affected step; warnings and
// suggestions surface to operators but do not block.
type ConstraintCheckResult struct {
	Passed      bool                  `json:"passed"`
	RiskScore   float64               `json:"risk_score"`
	Blocking    []ConstraintViolation `json:"blocking,omitempty"`
	Warnings    []ConstraintViolation `json:"warnings,omitempty"`
	Suggestions []ConstraintViolation `json:"suggestions,omitempty"`
}

// StepPrediction is the simulated outcome of one step.
type StepPrediction struct {
	StepID             string   `json:"step_id"`
	StepName           string   `json:"step_name"`
	WouldSucceed       bool     `json:"would_succeed"`
	SuccessProbability float64  `json:"success_probability"`
	SideEffects        []string `json:"side_effects,omitempty"`
}

// SimulationResult is a dry-run impact estimate for a plan or a single
// step. RiskScore is in [0,1]; the review threshold that turns a score
// into a manual-review request is configuration, not part of this type.
type SimulationResult struct {
	ID          string           `json:"id"`
	PlanID      string           `json:"plan_id,omitempty"`
	TaskID      string           `json:"task_id,omitempty"`
	Success     bool             `json:"success"`
	RiskScore   float64          `json:"risk_score"`
	RiskLevel   RiskLevel        `json:"risk_level"`
	Summary     string           `json:"summary"`
	Steps       []StepPrediction `json:"steps,omitempty"`
	Confidence  float64          `json:"confidence"`
	DurationMs  int64            `json:"duration_ms"`
	SimulatedAt time.Time        `json:"simulated_at"`
}
