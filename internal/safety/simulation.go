// File: internal/safety/simulation.go
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// Base risk score per declared step risk level.
var baseScores = map[schemas.RiskLevel]float64{
	schemas.RiskNone:     0.05,
	schemas.RiskLow:      0.15,
	schemas.RiskMedium:   0.35,
	schemas.RiskHigh:     0.60,
	schemas.RiskCritical: 0.85,
}

// destructiveKeywords each add 0.05 to a step's score. They are the DSL
// verbs that mutate external state.
var destructiveKeywords = map[string]struct{}{
	"DELETE":     {},
	"RUN_BASH":   {},
	"RUN_PYTHON": {},
	"POST":       {},
	"PUT":        {},
	"PATCH":      {},
	"UPDATE":     {},
}

const destructiveKeywordPenalty = 0.05

// StepRiskScore computes the heuristic risk score for one step: the
// base score for its declared risk level plus a penalty per destructive
// keyword, capped at 1.0.
func StepRiskScore(step schemas.PlanStep) float64 {
	score, ok := baseScores[step.RiskLevel]
	if !ok {
		score = baseScores[schemas.RiskLow]
	}
	for _, kw := range step.Keywords {
		if _, destructive := destructiveKeywords[strings.ToUpper(kw)]; destructive {
			score += destructiveKeywordPenalty
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// SimulateStep predicts the outcome of one step without side effects.
// reviewThreshold is the configured score above which a step is
// predicted to need intervention.
func SimulateStep(step schemas.PlanStep, reviewThreshold float64) schemas.StepPrediction {
	score := StepRiskScore(step)
	return schemas.StepPrediction{
		StepID:             step.ID,
		StepName:           step.Name,
		WouldSucceed:       score < reviewThreshold,
		SuccessProbability: 1 - score,
		SideEffects:        destructiveEffects(step),
	}
}

func destructiveEffects(step schemas.PlanStep) []string {
	var effects []string
	for _, kw := range step.Keywords {
		upper := strings.ToUpper(kw)
		if _, destructive := destructiveKeywords[upper]; destructive {
			effects = append(effects, fmt.Sprintf("%s mutates external state", upper))
		}
	}
	return effects
}

// SimulatePlan dry-runs a whole plan. The plan score is the maximum
// step score: a plan is as dangerous as its most dangerous step.
func SimulatePlan(plan *schemas.ExecutionPlan, reviewThreshold float64) schemas.SimulationResult {
	start := time.Now()

	var peak float64
	var risky int
	predictions := make([]schemas.StepPrediction, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		prediction := SimulateStep(step, reviewThreshold)
		predictions = append(predictions, prediction)
		if score := StepRiskScore(step); score > peak {
			peak = score
		}
		if !prediction.WouldSucceed {
			risky++
		}
	}

	summary := fmt.Sprintf("Simulated %d steps: peak risk score %.2f", len(plan.Steps), peak)
	if risky > 0 {
		summary += fmt.Sprintf(", %d step(s) above the review threshold", risky)
	}

	return schemas.SimulationResult{
		ID:          uuid.NewString(),
		PlanID:      plan.ID,
		Success:     risky == 0,
		RiskScore:   peak,
		RiskLevel:   scoreToLevel(peak),
		Summary:     summary,
		Steps:       predictions,
		Confidence:  0.75,
		DurationMs:  time.Since(start).Milliseconds(),
		SimulatedAt: time.Now().UTC(),
	}
}

// scoreToLevel is the inverse of the base score table, bucketing a
// continuous score back onto the ordinal scale.
func scoreToLevel(score float64) schemas.RiskLevel {
	switch {
	case score >= 0.85:
		return schemas.RiskCritical
	case score >= 0.60:
		return schemas.RiskHigh
	case score >= 0.35:
		return schemas.RiskMedium
	case score >= 0.15:
		return schemas.RiskLow
	default:
		return schemas.RiskNone
	}
}
