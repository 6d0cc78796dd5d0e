package schemas

// -- Intent Schemas --

// Session identifies the conversation a compile request originates from.
type Session struct {
	ID    string `json:"id"`
	BotID string `json:"bot_id"`
	Actor string `json:"actor,omitempty"`
}

// IntentEntities is the structured form of a free-text intent, produced
// once per compile by the entity extractor. Immutable after extraction.
type IntentEntities struct {
	Action       string       `json:"action"`
	Target       string       `json:"target"`
	Domain       string       `json:"domain,omitempty"`
	Client       string       `json:"client,omitempty"`
	Features     []string     `json:"features,omitempty"`
	Constraints  []Constraint `json:"constraints,omitempty"`
	Technologies []string     `json:"technologies,omitempty"`
	DataSources  []string     `json:"data_sources,omitempty"`
	Integrations []string     `json:"integrations,omitempty"`
}

// ConstraintType classifies a constraint attached to an intent.
type ConstraintType string

const (
	ConstraintBudget      ConstraintType = "budget"
	ConstraintTimeline    ConstraintType = "timeline"
	ConstraintTechnology  ConstraintType = "technology"
	ConstraintSecurity    ConstraintType = "security"
	ConstraintCompliance  ConstraintType = "compliance"
	ConstraintPerformance ConstraintType = "performance"
	ConstraintScalability ConstraintType = "scalability"
)

// Constraint is a single requirement extracted from the intent text.
// Hard constraints must hold; soft constraints are preferences.
type Constraint struct {
	Type   ConstraintType `json:"type"`
	Value  string         `json:"value"`
	IsHard bool           `json:"is_hard"`
}
