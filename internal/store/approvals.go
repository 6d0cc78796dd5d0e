// File: internal/store/approvals.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// -- Approvals --

const approvalColumns = `id, task_id, step_id, reason, risk_level, approver, status, default_action,
       requested_at, expires_at, resolved_at, resolver, comment`

func (s *Store) CreateApproval(ctx context.Context, a *schemas.PendingApproval) error {
	sql := `
        INSERT INTO approvals (` + approvalColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
    `
	_, err := s.pool.Exec(ctx, sql,
		a.ID, a.TaskID, a.StepID, a.Reason, a.RiskLevel.String(), a.Approver,
		string(a.Status), string(a.DefaultAction),
		a.RequestedAt.UTC(), a.ExpiresAt.UTC(), nullableTime(a.ResolvedAt), a.Resolver, a.Comment)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, taskID string) ([]schemas.PendingApproval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE task_id = $1 ORDER BY requested_at ASC;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

// ListExpiredApprovals returns approvals still pending past their
// deadline. The sweeper resolves them with their default action.
func (s *Store) ListExpiredApprovals(ctx context.Context) ([]schemas.PendingApproval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE status = $1 AND expires_at <= $2;`,
		string(schemas.ApprovalPending), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

// ResolveApproval applies exactly one resolution. The status guard in
// the WHERE clause means a concurrent or repeated resolution sees zero
// rows and fails with ErrAlreadyResolved.
func (s *Store) ResolveApproval(ctx context.Context, id string, status schemas.ApprovalStatus, resolver, comment string) error {
	sql := `
        UPDATE approvals
        SET status = $2, resolver = $3, comment = $4, resolved_at = $5
        WHERE id = $1 AND status = $6;
    `
	tag, err := s.pool.Exec(ctx, sql,
		id, string(status), resolver, comment, time.Now().UTC(), string(schemas.ApprovalPending))
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM approvals WHERE id = $1;`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check approval status: %w", err)
		}
		return fmt.Errorf("approval %s is %s: %w", id, current, schemas.ErrAlreadyResolved)
	}
	return nil
}

func collectApprovals(rows pgx.Rows) ([]schemas.PendingApproval, error) {
	var approvals []schemas.PendingApproval
	for rows.Next() {
		var (
			a                    schemas.PendingApproval
			risk, status, defAct string
			resolvedAt           *time.Time
		)
		err := rows.Scan(&a.ID, &a.TaskID, &a.StepID, &a.Reason, &risk, &a.Approver,
			&status, &defAct, &a.RequestedAt, &a.ExpiresAt, &resolvedAt, &a.Resolver, &a.Comment)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval row: %w", err)
		}
		a.RiskLevel = schemas.ParseRiskLevel(risk)
		a.Status = schemas.ApprovalStatus(status)
		a.DefaultAction = schemas.DefaultApprovalAction(defAct)
		a.ResolvedAt = resolvedAt
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during approval row iteration: %w", err)
	}
	return approvals, nil
}

// -- Decisions --

const decisionColumns = `id, task_id, step_id, title, options, chosen_option, status,
       created_at, expires_at, resolved_at, resolver`

func (s *Store) CreateDecision(ctx context.Context, d *schemas.PendingDecision) error {
	options, err := json.Marshal(d.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal decision options: %w", err)
	}

	sql := `
        INSERT INTO decisions (` + decisionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
	_, err = s.pool.Exec(ctx, sql,
		d.ID, d.TaskID, d.StepID, d.Title, options, d.ChosenOption,
		string(d.Status), d.CreatedAt.UTC(), d.ExpiresAt.UTC(), nullableTime(d.ResolvedAt), d.Resolver)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, taskID string) ([]schemas.PendingDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE task_id = $1 ORDER BY created_at ASC;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *Store) ListExpiredDecisions(ctx context.Context) ([]schemas.PendingDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE status = $1 AND expires_at <= $2;`,
		string(schemas.DecisionPending), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *Store) ResolveDecision(ctx context.Context, id, optionID, resolver string) error {
	sql := `
        UPDATE decisions
        SET status = $2, chosen_option = $3, resolver = $4, resolved_at = $5
        WHERE id = $1 AND status = $6;
    `
	tag, err := s.pool.Exec(ctx, sql,
		id, string(schemas.DecisionResolved), optionID, resolver, time.Now().UTC(),
		string(schemas.DecisionPending))
	if err != nil {
		return fmt.Errorf("failed to resolve decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM decisions WHERE id = $1;`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check decision status: %w", err)
		}
		return fmt.Errorf("decision %s is %s: %w", id, current, schemas.ErrAlreadyResolved)
	}
	return nil
}

func collectDecisions(rows pgx.Rows) ([]schemas.PendingDecision, error) {
	var decisions []schemas.PendingDecision
	for rows.Next() {
		var (
			d          schemas.PendingDecision
			options    []byte
			status     string
			resolvedAt *time.Time
		)
		err := rows.Scan(&d.ID, &d.TaskID, &d.StepID, &d.Title, &options, &d.ChosenOption,
			&status, &d.CreatedAt, &d.ExpiresAt, &resolvedAt, &d.Resolver)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &d.Options); err != nil {
				return nil, fmt.Errorf("failed to unmarshal decision options: %w", err)
			}
		}
		d.Status = schemas.DecisionStatus(status)
		d.ResolvedAt = resolvedAt
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during decision row iteration: %w", err)
	}
	return decisions, nil
}
