package schemas

import (
	"encoding/json"
	"time"
)

// -- AutoTask Schemas --

// AutoTaskStatus is the lifecycle state of a task executing a compiled
// intent. AwaitingApproval, AwaitingDecision and Paused are re-entrant:
// a task may pass through them once per step that demands it.
type AutoTaskStatus string

const (
	TaskPending          AutoTaskStatus = "PENDING"
	TaskCompiling        AutoTaskStatus = "COMPILING"
	TaskAwaitingApproval AutoTaskStatus = "AWAITING_APPROVAL"
	TaskExecuting        AutoTaskStatus = "EXECUTING"
	TaskAwaitingDecision AutoTaskStatus = "AWAITING_DECISION"
	TaskPaused           AutoTaskStatus = "PAUSED"
	TaskCompleted        AutoTaskStatus = "COMPLETED"
	TaskFailed           AutoTaskStatus = "FAILED"
	TaskCancelled        AutoTaskStatus = "CANCELLED"
	TaskRolledBack       AutoTaskStatus = "ROLLED_BACK"
)

// Terminal reports whether no further transitions are possible.
func (s AutoTaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskRolledBack:
		return true
	}
	return false
}

// ExecutionMode controls how much human supervision execution gets.
type ExecutionMode string

const (
	ModeManual    ExecutionMode = "MANUAL"
	ModeAuto      ExecutionMode = "AUTO"
	ModeSimulated ExecutionMode = "SIMULATED"
)

// TaskPriority orders tasks competing for engine workers.
type TaskPriority string

const (
	TaskPriorityCritical   TaskPriority = "CRITICAL"
	TaskPriorityHigh       TaskPriority = "HIGH"
	TaskPriorityMedium     TaskPriority = "MEDIUM"
	TaskPriorityLow        TaskPriority = "LOW"
	TaskPriorityBackground TaskPriority = "BACKGROUND"
)

// StepStatus tracks one step's progress inside a task.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepRunning    StepStatus = "RUNNING"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
	StepRolledBack StepStatus = "ROLLED_BACK"
)

// StepExecutionResult records the outcome of one executed step,
// including the rollback payload needed to undo it.
type StepExecutionResult struct {
	StepID       string          `json:"step_id"`
	StepOrder    int             `json:"step_order"`
	StepName     string          `json:"step_name"`
	Status       StepStatus      `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
	CanRollback  bool            `json:"can_rollback"`
	RollbackData json.RawMessage `json:"rollback_data,omitempty"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	StepID      string    `json:"step_id,omitempty"`
	Recoverable bool      `json:"recoverable"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// AutoTask is the execution wrapper around a CompiledIntent. The
// Cursor is the index of the next step to run; it is persisted so a
// task suspended at an approval gate can resume days later from
// durable state.
type AutoTask struct {
	ID               string                `json:"id"`
	CompiledIntentID string                `json:"compiled_intent_id"`
	Title            string                `json:"title"`
	Status           AutoTaskStatus        `json:"status"`
	Mode             ExecutionMode         `json:"mode"`
	Priority         TaskPriority          `json:"priority"`
	Cursor           int                   `json:"cursor"`
	TotalSteps       int                   `json:"total_steps"`
	StepResults      []StepExecutionResult `json:"step_results,omitempty"`
	Error            *TaskError            `json:"error,omitempty"`
	RolledBackSteps  []string              `json:"rolled_back_steps,omitempty"`
	SessionID        string                `json:"session_id"`
	BotID            string                `json:"bot_id"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// -- Approval / Decision Schemas --

// ApprovalStatus is the resolution state of a pending approval.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalExpired   ApprovalStatus = "EXPIRED"
	ApprovalEscalated ApprovalStatus = "ESCALATED"
)

// PendingApproval is a human gate raised by the engine. Exactly one
// resolution is ever applied; late or duplicate responses fail with
// an already-resolved error.
type PendingApproval struct {
	ID            string                `json:"id"`
	TaskID        string                `json:"task_id"`
	StepID        string                `json:"step_id,omitempty"`
	Reason        string                `json:"reason"`
	RiskLevel     RiskLevel             `json:"risk_level"`
	Approver      string                `json:"approver"`
	Status        ApprovalStatus        `json:"status"`
	DefaultAction DefaultApprovalAction `json:"default_action"`
	RequestedAt   time.Time             `json:"requested_at"`
	ExpiresAt     time.Time             `json:"expires_at"`
	ResolvedAt    *time.Time            `json:"resolved_at,omitempty"`
	Resolver      string                `json:"resolver,omitempty"`
	Comment       string                `json:"comment,omitempty"`
}

// DecisionStatus is the resolution state of a pending decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "PENDING"
	DecisionResolved DecisionStatus = "RESOLVED"
	DecisionExpired  DecisionStatus = "EXPIRED"
)

// DecisionOption is one viable branch of an ambiguous outcome.
type DecisionOption struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Pros        []string `json:"pros,omitempty"`
	Cons        []string `json:"cons,omitempty"`
	Recommended bool     `json:"recommended,omitempty"`
}

// PendingDecision is raised when a step's outcome is ambiguous and a
// human must choose between branches. ChosenOption stays empty until
// resolved.
type PendingDecision struct {
	ID           string           `json:"id"`
	TaskID       string           `json:"task_id"`
	StepID       string           `json:"step_id,omitempty"`
	Title        string           `json:"title"`
	Options      []DecisionOption `json:"options"`
	ChosenOption string           `json:"chosen_option,omitempty"`
	Status       DecisionStatus   `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	Resolver     string           `json:"resolver,omitempty"`
}

// TaskStats is the aggregate view served by the stats endpoint.
type TaskStats struct {
	Total            int `json:"total"`
	Executing        int `json:"executing"`
	Pending          int `json:"pending"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	AwaitingApproval int `json:"awaiting_approval"`
	AwaitingDecision int `json:"awaiting_decision"`
}
