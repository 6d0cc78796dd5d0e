// File: internal/compiler/codegen.go
package compiler

import (
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// GenerateProgram is the deterministic codegen pass: it translates an
// execution plan plus the extracted entities into the BASIC program the
// DSL engine will run. Given the same plan, entities and timestamp it
// produces byte-identical output; generatedAt is the only time-varying
// content and is passed in explicitly so callers (and tests) control it.
func GenerateProgram(plan *schemas.ExecutionPlan, entities schemas.IntentEntities, generatedAt time.Time) string {
	var b strings.Builder

	rule := "' ============================================================================="
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "' AUTO-GENERATED BASIC PROGRAM")
	fmt.Fprintf(&b, "' Plan: %s\n", plan.Name)
	fmt.Fprintf(&b, "' Description: %s\n", plan.Description)
	fmt.Fprintf(&b, "' Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)

	// Plan overview block for traceability.
	fmt.Fprintf(&b, "PLAN_START %q, %q\n", plan.Name, plan.Description)
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "  STEP %d, %q, %s\n", step.Order, step.Name, step.Priority)
	}
	fmt.Fprintln(&b, "PLAN_END")
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "' Initialize context variables")
	fmt.Fprintf(&b, "SET action = %q\n", entities.Action)
	fmt.Fprintf(&b, "SET target = %q\n", entities.Target)
	if entities.Client != "" {
		fmt.Fprintf(&b, "SET client = %q\n", entities.Client)
	}
	if entities.Domain != "" {
		fmt.Fprintf(&b, "SET domain = %q\n", entities.Domain)
	}
	fmt.Fprintln(&b)

	client := entities.Client
	if client == "" {
		client = "general use"
	}
	fmt.Fprintln(&b, "' Set LLM context")
	fmt.Fprintf(&b, "SET CONTEXT %q\n", fmt.Sprintf("Task: %s %s for %s", entities.Action, entities.Target, client))
	fmt.Fprintln(&b)

	stepRule := "' -----------------------------------------------------------------------------"
	for i := range plan.Steps {
		step := &plan.Steps[i]
		fmt.Fprintln(&b, stepRule)
		fmt.Fprintf(&b, "' STEP %d: %s\n", step.Order, step.Name)
		fmt.Fprintf(&b, "' %s\n", step.Description)
		fmt.Fprintf(&b, "' Risk: %s, Approval Required: %t\n", step.RiskLevel, step.RequiresApproval)
		fmt.Fprintln(&b, stepRule)
		b.WriteString(generateStepCode(step))
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "' Task completed")
	fmt.Fprintln(&b, `TALK "Task completed successfully!"`)
	fmt.Fprintf(&b, "AUDIT_LOG \"plan-complete\", %q, \"success\"\n", plan.ID)

	return b.String()
}

// generateStepCode emits the body for one step: approval and simulation
// scaffolding, audit markers, one instruction per keyword, output
// bindings, and the end label the approval skip jumps to. A step with no
// keywords still gets its scaffolding and audit markers.
func generateStepCode(step *schemas.PlanStep) string {
	var b strings.Builder

	if step.RequiresApproval {
		fmt.Fprintf(&b, "REQUIRE_APPROVAL \"step-%d\", %q\n", step.Order, step.Description)
		fmt.Fprintln(&b, "IF NOT approved THEN")
		fmt.Fprintf(&b, "  TALK \"Step %d was not approved, skipping...\"\n", step.Order)
		fmt.Fprintf(&b, "  GOTO step_%d_end\n", step.Order)
		fmt.Fprintln(&b, "END IF")
		fmt.Fprintln(&b)
	}

	if step.RiskLevel >= schemas.RiskHigh {
		fmt.Fprintf(&b, "simulation_result = SIMULATE_IMPACT \"step-%d\"\n", step.Order)
		fmt.Fprintln(&b, "IF simulation_result.risk_score > 0.7 THEN")
		fmt.Fprintf(&b, "  TALK \"High risk detected in step %d, requesting manual review...\"\n", step.Order)
		fmt.Fprintln(&b, `  REQUIRE_APPROVAL "high-risk-override", simulation_result.summary`)
		fmt.Fprintln(&b, "END IF")
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "AUDIT_LOG \"step-start\", \"step-%d\", %q\n", step.Order, step.Name)

	for _, keyword := range step.Keywords {
		emitKeyword(&b, step, strings.ToUpper(keyword))
	}

	for _, output := range step.Outputs {
		fmt.Fprintf(&b, "SET output_%s = result_%d\n", output, step.Order)
	}

	fmt.Fprintf(&b, "AUDIT_LOG \"step-end\", \"step-%d\", \"complete\"\n", step.Order)
	fmt.Fprintf(&b, "step_%d_end:\n", step.Order)

	return b.String()
}

// emitKeyword writes one instruction for a DSL verb. Unrecognized
// keywords degrade to a comment line, never an error.
func emitKeyword(b *strings.Builder, step *schemas.PlanStep, keyword string) {
	switch keyword {
	case "CREATE_TASK":
		fmt.Fprintf(b, "task_%d = CREATE_TASK %q, \"auto\", \"+1 day\", null\n", step.Order, step.Name)
	case "LLM":
		fmt.Fprintf(b, "llm_result_%d = LLM %q\n", step.Order, step.Description)
	case "RUN_PYTHON":
		fmt.Fprintf(b, "python_result_%d = RUN_PYTHON %q\n", step.Order, "# "+step.Description)
	case "RUN_JAVASCRIPT":
		fmt.Fprintf(b, "js_result_%d = RUN_JAVASCRIPT \"console.log('Step %d executed');\"\n", step.Order, step.Order)
	case "GET":
		fmt.Fprintf(b, "data_%d = GET %q\n", step.Order, step.ID+"_data")
	case "SET":
		fmt.Fprintf(b, "SET step_%d_complete = true\n", step.Order)
	case "SAVE":
		fmt.Fprintf(b, "SAVE step_%d_result TO \"results\"\n", step.Order)
	case "POST", "PUT", "PATCH", "DELETE HTTP":
		for _, apiCall := range step.APICalls {
			fmt.Fprintf(b, "%s %q INTO api_result_%d\n", keyword, apiCall.URLTemplate, step.Order)
		}
	case "USE_MCP":
		for _, server := range step.MCPServers {
			fmt.Fprintf(b, "mcp_result_%d = USE_MCP %q, %q\n", step.Order, server, step.Description)
		}
	case "SEND_MAIL":
		fmt.Fprintf(b, "SEND_MAIL \"status@bot.local\", \"Step %d Complete\", %q\n", step.Order, step.Description)
	default:
		fmt.Fprintf(b, "' Using keyword: %s\n", keyword)
	}
}
