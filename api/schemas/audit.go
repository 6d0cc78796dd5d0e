package schemas

import (
	"encoding/json"
	"time"
)

// -- Audit Schemas --

// AuditEventType names one kind of auditable action.
type AuditEventType string

const (
	AuditTaskCreated         AuditEventType = "task_created"
	AuditTaskStarted         AuditEventType = "task_started"
	AuditTaskCompleted       AuditEventType = "task_completed"
	AuditTaskFailed          AuditEventType = "task_failed"
	AuditTaskCancelled       AuditEventType = "task_cancelled"
	AuditTaskPaused          AuditEventType = "task_paused"
	AuditTaskResumed         AuditEventType = "task_resumed"
	AuditStepStarted         AuditEventType = "step_started"
	AuditStepCompleted       AuditEventType = "step_completed"
	AuditStepFailed          AuditEventType = "step_failed"
	AuditStepSkipped         AuditEventType = "step_skipped"
	AuditStepRolledBack      AuditEventType = "step_rolled_back"
	AuditApprovalRequested   AuditEventType = "approval_requested"
	AuditApprovalGranted     AuditEventType = "approval_granted"
	AuditApprovalDenied      AuditEventType = "approval_denied"
	AuditApprovalExpired     AuditEventType = "approval_expired"
	AuditDecisionRequested   AuditEventType = "decision_requested"
	AuditDecisionMade        AuditEventType = "decision_made"
	AuditDecisionTimeout     AuditEventType = "decision_timeout"
	AuditSimulationCompleted AuditEventType = "simulation_completed"
	AuditConstraintViolated  AuditEventType = "constraint_violated"
	AuditIntentCompiled      AuditEventType = "intent_compiled"
	AuditMCPInvoked          AuditEventType = "mcp_invoked"
)

// ActorType says who performed an audited action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorBot    ActorType = "bot"
	ActorSystem ActorType = "system"
)

// AuditActor identifies the acting party.
type AuditActor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// AuditOutcome captures whether the audited action succeeded.
type AuditOutcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// AuditEntry is one immutable record of an action taken by the system
// or a human. Entries are append-only: the audit log is the
// system-of-record for what happened, so it is never rewritten.
type AuditEntry struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id,omitempty"`
	StepID    string          `json:"step_id,omitempty"`
	EventType AuditEventType  `json:"event_type"`
	Actor     AuditActor      `json:"actor"`
	Action    string          `json:"action"`
	Outcome   AuditOutcome    `json:"outcome"`
	Details   json.RawMessage `json:"details,omitempty"`
	RiskLevel RiskLevel       `json:"risk_level"`
	SessionID string          `json:"session_id,omitempty"`
	BotID     string          `json:"bot_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
