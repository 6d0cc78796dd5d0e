// File: internal/safety/audit.go
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// Auditor writes the append-only trail. The engine calls Record before
// making the corresponding status change visible, so the log never
// lags the state it explains.
type Auditor struct {
	store  schemas.IntentStore
	logger *zap.Logger
}

// NewAuditor constructs an Auditor.
func NewAuditor(store schemas.IntentStore, logger *zap.Logger) (*Auditor, error) {
	if store == nil {
		return nil, fmt.Errorf("auditor requires a store")
	}
	if logger == nil {
		return nil, fmt.Errorf("auditor requires a logger")
	}
	return &Auditor{store: store, logger: logger.Named("audit")}, nil
}

// Record appends one entry, filling ID and timestamp when the caller
// left them empty. A write failure is returned to the caller: the
// transition it precedes must not proceed unaudited.
func (a *Auditor) Record(ctx context.Context, entry *schemas.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := a.store.AppendAudit(ctx, entry); err != nil {
		a.logger.Error("Audit write failed",
			zap.String("event_type", string(entry.EventType)),
			zap.String("task_id", entry.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	a.logger.Debug("Audit entry recorded",
		zap.String("event_type", string(entry.EventType)),
		zap.String("task_id", entry.TaskID),
		zap.String("step_id", entry.StepID))
	return nil
}

// System is a convenience constructor for engine-originated entries.
func System(taskID string, event schemas.AuditEventType, action string, success bool) *schemas.AuditEntry {
	return &schemas.AuditEntry{
		TaskID:    taskID,
		EventType: event,
		Actor:     schemas.AuditActor{Type: schemas.ActorSystem, ID: "engine"},
		Action:    action,
		Outcome:   schemas.AuditOutcome{Success: success},
	}
}
