package schemas

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors shared by every IntentStore implementation.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by guarded status transitions when the
	// record is no longer in the expected state.
	ErrConflict = errors.New("status conflict")
	// ErrAlreadyResolved is returned when a second resolution is
	// attempted on an approval or decision.
	ErrAlreadyResolved = errors.New("already resolved")
)

// -- Centralized Core Service Interfaces --

// GenerationOptions tunes a single LLM call.
type GenerationOptions struct {
	Temperature     float64
	MaxTokens       int
	ForceJSONFormat bool
}

// GenerationRequest is one prompt for the completion provider.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerationOptions
}

// LLMClient is the single boundary to the completion provider. The
// compiler's branching logic depends only on this interface, so it is
// unit-testable with a fake returning canned JSON.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Ambiguity is raised by a script engine when a step has multiple
// viable continuations and a human must pick one.
type Ambiguity struct {
	Title   string           `json:"title"`
	Options []DecisionOption `json:"options"`
}

// StepOutcome is what the script engine reports after running a step.
// RollbackData is the opaque payload needed to undo the step later.
type StepOutcome struct {
	Output       json.RawMessage `json:"output,omitempty"`
	RollbackData json.RawMessage `json:"rollback_data,omitempty"`
	Ambiguity    *Ambiguity      `json:"ambiguity,omitempty"`
}

// ScriptEngine executes one plan step of a generated BASIC program.
// The real interpreter lives outside this module; the engine only
// depends on this contract.
type ScriptEngine interface {
	ExecuteStep(ctx context.Context, task *AutoTask, step PlanStep, program string) (StepOutcome, error)
	// RollbackStep undoes a previously completed step using the
	// rollback payload its outcome carried.
	RollbackStep(ctx context.Context, task *AutoTask, step PlanStep, rollbackData json.RawMessage) error
}

// ToolInvoker calls a named tool on an MCP server.
type ToolInvoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error)
}

// IntentStore is the persistence boundary for compiled intents, tasks,
// approvals, decisions and the audit log.
type IntentStore interface {
	SaveCompiledIntent(ctx context.Context, ci *CompiledIntent) error
	GetCompiledIntent(ctx context.Context, id string) (*CompiledIntent, error)

	CreateTask(ctx context.Context, task *AutoTask) error
	GetTask(ctx context.Context, id string) (*AutoTask, error)
	ListTasks(ctx context.Context, status AutoTaskStatus, limit, offset int) ([]AutoTask, error)
	UpdateTask(ctx context.Context, task *AutoTask) error
	// TransitionTask performs a compare-and-set status change; it
	// returns ErrConflict when the task is no longer in `from`.
	TransitionTask(ctx context.Context, id string, from, to AutoTaskStatus) error
	TaskStats(ctx context.Context) (TaskStats, error)

	CreateApproval(ctx context.Context, a *PendingApproval) error
	ListApprovals(ctx context.Context, taskID string) ([]PendingApproval, error)
	ListExpiredApprovals(ctx context.Context) ([]PendingApproval, error)
	// ResolveApproval applies exactly one resolution; a second attempt
	// returns ErrAlreadyResolved.
	ResolveApproval(ctx context.Context, id string, status ApprovalStatus, resolver, comment string) error

	CreateDecision(ctx context.Context, d *PendingDecision) error
	ListDecisions(ctx context.Context, taskID string) ([]PendingDecision, error)
	ListExpiredDecisions(ctx context.Context) ([]PendingDecision, error)
	ResolveDecision(ctx context.Context, id, optionID, resolver string) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, taskID string) ([]AuditEntry, error)
}
