// File: internal/compiler/resources.go
package compiler

import "github.com/xkilldash9x/intentc/api/schemas"

// Cost model constants, in USD.
const (
	costPerComputeHour = 0.10
	costPerAPICall     = 0.001
	costPerLLMToken    = 0.00002
)

// EstimateResources sums per-step costs into a plan-level estimate:
// minutes roll up to compute hours, API call counts add up, each step
// using the "LLM" keyword charges tokensPerLLMCall tokens, and required
// MCP servers are collected uniquely in first-seen order.
func EstimateResources(plan *schemas.ExecutionPlan, tokensPerLLMCall int) schemas.ResourceEstimate {
	var estimate schemas.ResourceEstimate
	seen := make(map[string]struct{})

	for _, step := range plan.Steps {
		estimate.ComputeHours += float64(step.EstimatedMinutes) / 60.0
		estimate.APICalls += len(step.APICalls)

		for _, keyword := range step.Keywords {
			if keyword == "LLM" {
				estimate.LLMTokens += tokensPerLLMCall
			}
		}

		for _, mcp := range step.MCPServers {
			if _, ok := seen[mcp]; !ok {
				seen[mcp] = struct{}{}
				estimate.MCPServersNeeded = append(estimate.MCPServersNeeded, mcp)
			}
		}
	}

	estimate.EstimatedCostUSD = estimate.ComputeHours*costPerComputeHour +
		float64(estimate.APICalls)*costPerAPICall +
		float64(estimate.LLMTokens)*costPerLLMToken

	return estimate
}
