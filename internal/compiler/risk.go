// File: internal/compiler/risk.go
package compiler

import (
	"fmt"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// AssessRisks aggregates step risk into a plan-level verdict. Overall
// risk is the maximum across steps; every step at High or above yields
// an IdentifiedRisk; human review is required exactly when the overall
// risk reaches High.
func AssessRisks(plan *schemas.ExecutionPlan) schemas.RiskAssessment {
	overall := schemas.RiskNone
	var risks []schemas.IdentifiedRisk

	for _, step := range plan.Steps {
		if step.RiskLevel > overall {
			overall = step.RiskLevel
		}
		if step.RiskLevel >= schemas.RiskHigh {
			risks = append(risks, schemas.IdentifiedRisk{
				ID:            "risk-" + step.ID,
				Category:      schemas.RiskCatDependencyFailure,
				Description:   fmt.Sprintf("Step '%s' has high risk level", step.Name),
				Probability:   0.3,
				Impact:        step.RiskLevel,
				AffectedSteps: []string{step.ID},
			})
		}
	}

	assessment := schemas.RiskAssessment{
		OverallRisk:         overall,
		Risks:               risks,
		RequiresHumanReview: overall >= schemas.RiskHigh,
	}
	if assessment.RequiresHumanReview {
		assessment.ReviewReason = "High risk steps detected"
	}
	return assessment
}

// DetermineApprovalLevels returns exactly one admin gate iff any step
// is High risk or above, otherwise none.
func DetermineApprovalLevels(steps []schemas.PlanStep) []schemas.ApprovalLevel {
	for _, step := range steps {
		if step.RiskLevel >= schemas.RiskHigh {
			return []schemas.ApprovalLevel{{
				Level:          1,
				Approver:       "admin",
				Reason:         "High risk steps require approval",
				TimeoutMinutes: 60,
				DefaultAction:  schemas.ApprovalActionPause,
			}}
		}
	}
	return nil
}
