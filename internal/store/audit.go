// File: internal/store/audit.go
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/intentc/api/schemas"
)

const auditColumns = `id, task_id, step_id, event_type, actor_type, actor_id, action,
       success, message, error, duration_ms, details, risk_level, session_id, bot_id, timestamp`

// AppendAudit writes one immutable audit record. The audit_log table is
// insert-only: there is no update or delete path anywhere in the store.
func (s *Store) AppendAudit(ctx context.Context, entry *schemas.AuditEntry) error {
	details := entry.Details
	if len(details) == 0 || string(details) == "null" {
		details = json.RawMessage("{}")
	}

	sql := `
        INSERT INTO audit_log (` + auditColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
    `
	_, err := s.pool.Exec(ctx, sql,
		entry.ID, entry.TaskID, entry.StepID, string(entry.EventType),
		string(entry.Actor.Type), entry.Actor.ID, entry.Action,
		entry.Outcome.Success, entry.Outcome.Message, entry.Outcome.Error, entry.Outcome.DurationMs,
		details, entry.RiskLevel.String(), entry.SessionID, entry.BotID, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, taskID string) ([]schemas.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE task_id = $1 ORDER BY timestamp ASC;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]schemas.AuditEntry, error) {
	var entries []schemas.AuditEntry
	for rows.Next() {
		var (
			e                    schemas.AuditEntry
			eventType, actorType string
			risk                 string
			details              []byte
		)
		err := rows.Scan(&e.ID, &e.TaskID, &e.StepID, &eventType, &actorType, &e.Actor.ID,
			&e.Action, &e.Outcome.Success, &e.Outcome.Message, &e.Outcome.Error,
			&e.Outcome.DurationMs, &details, &risk, &e.SessionID, &e.BotID, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.EventType = schemas.AuditEventType(eventType)
		e.Actor.Type = schemas.ActorType(actorType)
		e.RiskLevel = schemas.ParseRiskLevel(risk)
		e.Details = details
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during audit row iteration: %w", err)
	}
	return entries, nil
}
