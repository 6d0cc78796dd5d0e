// File: internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

// ddl holds the full relational schema. audit_log is insert-only by
// convention; nothing in this package updates or deletes from it.
const ddl = `
CREATE TABLE IF NOT EXISTS compiled_intents (
    id              TEXT PRIMARY KEY,
    bot_id          TEXT NOT NULL,
    session_id      TEXT NOT NULL,
    original_intent TEXT NOT NULL,
    basic_program   TEXT NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    compiled_at     TIMESTAMPTZ NOT NULL,
    data            JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS auto_tasks (
    id                 TEXT PRIMARY KEY,
    compiled_intent_id TEXT NOT NULL REFERENCES compiled_intents(id),
    title              TEXT NOT NULL,
    status             TEXT NOT NULL,
    mode               TEXT NOT NULL,
    priority           TEXT NOT NULL,
    cursor             INTEGER NOT NULL DEFAULT 0,
    total_steps        INTEGER NOT NULL DEFAULT 0,
    step_results       JSONB NOT NULL DEFAULT '[]',
    error              JSONB,
    rolled_back_steps  JSONB NOT NULL DEFAULT '[]',
    session_id         TEXT NOT NULL,
    bot_id             TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL,
    started_at         TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_auto_tasks_status ON auto_tasks(status);

CREATE TABLE IF NOT EXISTS approvals (
    id             TEXT PRIMARY KEY,
    task_id        TEXT NOT NULL REFERENCES auto_tasks(id),
    step_id        TEXT NOT NULL DEFAULT '',
    reason         TEXT NOT NULL,
    risk_level     TEXT NOT NULL,
    approver       TEXT NOT NULL,
    status         TEXT NOT NULL,
    default_action TEXT NOT NULL,
    requested_at   TIMESTAMPTZ NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    resolved_at    TIMESTAMPTZ,
    resolver       TEXT NOT NULL DEFAULT '',
    comment        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approvals(status, expires_at);

CREATE TABLE IF NOT EXISTS decisions (
    id            TEXT PRIMARY KEY,
    task_id       TEXT NOT NULL REFERENCES auto_tasks(id),
    step_id       TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL,
    options       JSONB NOT NULL DEFAULT '[]',
    chosen_option TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    resolved_at   TIMESTAMPTZ,
    resolver      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_decisions_pending ON decisions(status, expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL DEFAULT '',
    step_id     TEXT NOT NULL DEFAULT '',
    event_type  TEXT NOT NULL,
    actor_type  TEXT NOT NULL,
    actor_id    TEXT NOT NULL,
    action      TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    details     JSONB NOT NULL DEFAULT '{}',
    risk_level  TEXT NOT NULL,
    session_id  TEXT NOT NULL DEFAULT '',
    bot_id      TEXT NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_task ON audit_log(task_id, timestamp);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.log.Debug("Database schema verified")
	return nil
}
