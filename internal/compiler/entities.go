// File: internal/compiler/entities.go
package compiler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
)

const entityExtractionSystemPrompt = `You extract structured information from user requests. Respond ONLY with valid JSON, no explanation.`

// buildEntityPrompt embeds the raw intent and the strict output schema
// the extractor must follow.
func buildEntityPrompt(intent string) string {
	return fmt.Sprintf(`Analyze this user request and extract structured information.

User Request: %q

Extract the following as JSON:
{
    "action": "primary action (create/update/delete/analyze/report/integrate/automate)",
    "target": "what to create/modify (CRM, website, report, API, etc.)",
    "domain": "industry/domain if mentioned (financial, healthcare, retail, etc.) or null",
    "client": "client/company name if mentioned or null",
    "features": ["list of specific features requested"],
    "constraints": [
        {"type": "budget|timeline|technology|security|compliance|performance", "value": "constraint value", "is_hard": true}
    ],
    "technologies": ["specific technologies/tools mentioned"],
    "data_sources": ["data sources mentioned"],
    "integrations": ["external systems to integrate with"]
}

Respond ONLY with valid JSON, no explanation.`, intent)
}

// extractEntities performs the first LLM round-trip. Extraction is
// best-effort: any failure falls back to a minimal entity record rather
// than aborting the compile.
func (c *Compiler) extractEntities(ctx context.Context, intent string) schemas.IntentEntities {
	fallback := schemas.IntentEntities{Action: "create", Target: intent}

	response, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: entityExtractionSystemPrompt,
		UserPrompt:   buildEntityPrompt(intent),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		c.logger.Warn("Entity extraction call failed, using fallback entities", zap.Error(err))
		return fallback
	}

	var entities schemas.IntentEntities
	if err := json.Unmarshal([]byte(response), &entities); err != nil {
		c.logger.Warn("Failed to parse entity extraction response", zap.Error(err))
		return fallback
	}
	if entities.Action == "" {
		entities.Action = "create"
	}
	if entities.Target == "" {
		entities.Target = intent
	}
	return entities
}
