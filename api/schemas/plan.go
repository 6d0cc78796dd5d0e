package schemas

import (
	"encoding/json"
	"strings"
)

// -- Plan Schemas --

// RiskLevel is an ordered severity scale attached to steps and plans.
// The zero value is RiskNone; comparisons use the natural int order.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskNone:     "NONE",
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return "LOW"
}

// ParseRiskLevel maps a wire name to a RiskLevel. Unknown or empty input
// degrades to RiskLow, matching the plan decoder's tolerance for model
// output that omits or misspells the field.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return RiskNone
	case "MEDIUM":
		return RiskMedium
	case "HIGH":
		return RiskHigh
	case "CRITICAL":
		return RiskCritical
	default:
		return RiskLow
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRiskLevel(s)
	return nil
}

// StepPriority orders steps by importance. Priority never changes
// execution order (that is PlanStep.Order); it informs operators and
// the plan overview block in generated programs.
type StepPriority string

const (
	PriorityCritical StepPriority = "CRITICAL"
	PriorityHigh     StepPriority = "HIGH"
	PriorityMedium   StepPriority = "MEDIUM"
	PriorityLow      StepPriority = "LOW"
	PriorityOptional StepPriority = "OPTIONAL"
)

// ParseStepPriority maps a wire name to a StepPriority, defaulting to
// PriorityMedium for anything unrecognized.
func ParseStepPriority(s string) StepPriority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return PriorityCritical
	case "HIGH":
		return PriorityHigh
	case "LOW":
		return PriorityLow
	case "OPTIONAL":
		return PriorityOptional
	default:
		return PriorityMedium
	}
}

// ExecutionPlan is an ordered, dependency-linked set of steps realizing
// an intent. The Dependencies map is keyed by step ID and must describe
// an acyclic graph; the compiler rejects plans where it does not.
type ExecutionPlan struct {
	ID                       string              `json:"id"`
	Name                     string              `json:"name"`
	Description              string              `json:"description"`
	Steps                    []PlanStep          `json:"steps"`
	Dependencies             map[string][]string `json:"dependencies"`
	EstimatedDurationMinutes int                 `json:"estimated_duration_minutes"`
	RequiresApproval         bool                `json:"requires_approval"`
	ApprovalLevels           []ApprovalLevel     `json:"approval_levels,omitempty"`
	RollbackPlan             string              `json:"rollback_plan,omitempty"`
}

// PlanStep is one unit of work in an execution plan.
type PlanStep struct {
	ID               string        `json:"id"`
	Order            int           `json:"order"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Keywords         []string      `json:"keywords"`
	BasicCode        string        `json:"basic_code,omitempty"`
	Priority         StepPriority  `json:"priority"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	RequiresApproval bool          `json:"requires_approval"`
	CanRollback      bool          `json:"can_rollback"`
	Dependencies     []string      `json:"dependencies,omitempty"`
	Outputs          []string      `json:"outputs,omitempty"`
	MCPServers       []string      `json:"mcp_servers,omitempty"`
	APICalls         []APICallSpec `json:"api_calls,omitempty"`
}

// DefaultApprovalAction is what happens when an approval times out.
type DefaultApprovalAction string

const (
	ApprovalActionApprove  DefaultApprovalAction = "APPROVE"
	ApprovalActionReject   DefaultApprovalAction = "REJECT"
	ApprovalActionEscalate DefaultApprovalAction = "ESCALATE"
	ApprovalActionPause    DefaultApprovalAction = "PAUSE"
)

// ApprovalLevel is a named human gate blocking progress past a risk
// threshold. TimeoutMinutes bounds how long the gate may stay open
// before DefaultAction is applied.
type ApprovalLevel struct {
	Level          int                   `json:"level"`
	Approver       string                `json:"approver"`
	Reason         string                `json:"reason"`
	TimeoutMinutes int                   `json:"timeout_minutes"`
	DefaultAction  DefaultApprovalAction `json:"default_action"`
}

// AuthKind enumerates the credential schemes an API call may use.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api_key"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthOAuth2 AuthKind = "oauth2"
)

// AuthSpec names the credentials an API call requires. Fields hold
// credential *references* resolved at execution time; literal secrets
// never appear in a plan.
type AuthSpec struct {
	Kind            AuthKind `json:"kind"`
	Header          string   `json:"header,omitempty"`
	KeyRef          string   `json:"key_ref,omitempty"`
	TokenRef        string   `json:"token_ref,omitempty"`
	UserRef         string   `json:"user_ref,omitempty"`
	PassRef         string   `json:"pass_ref,omitempty"`
	ClientIDRef     string   `json:"client_id_ref,omitempty"`
	ClientSecretRef string   `json:"client_secret_ref,omitempty"`
}

// RetryConfig bounds retries for a transient API failure.
type RetryConfig struct {
	MaxRetries    int   `json:"max_retries"`
	BackoffMs     int   `json:"backoff_ms"`
	RetryOnStatus []int `json:"retry_on_status"`
}

// DefaultRetryConfig returns the standard retry policy: three attempts
// with a one second base backoff, retrying on throttle and 5xx status.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BackoffMs:     1000,
		RetryOnStatus: []int{429, 500, 502, 503, 504},
	}
}

// ShouldRetry reports whether the given HTTP status is retryable under
// this policy.
func (rc RetryConfig) ShouldRetry(status int) bool {
	for _, s := range rc.RetryOnStatus {
		if s == status {
			return true
		}
	}
	return false
}

// APICallSpec describes one external HTTP call a step will make.
type APICallSpec struct {
	Name         string            `json:"name"`
	Method       string            `json:"method"`
	URLTemplate  string            `json:"url_template"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
	Auth         AuthSpec          `json:"auth"`
	Retry        RetryConfig       `json:"retry"`
}
