// File: internal/engine/sweep.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/safety"
)

// Sweeper periodically resolves approvals and decisions that expired
// without a human response, applying each gate's default action. The
// store's status guard makes every resolution exactly-once: a sweep
// racing another sweep (or a late human) loses cleanly with
// ErrAlreadyResolved and moves on.
type Sweeper struct {
	engine   *Engine
	store    schemas.IntentStore
	auditor  *safety.Auditor
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper builds a Sweeper over the engine's store and auditor.
func NewSweeper(engine *Engine, interval time.Duration) (*Sweeper, error) {
	if engine == nil {
		return nil, errors.New("sweeper requires an engine")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		engine:   engine,
		store:    engine.store,
		auditor:  engine.auditor,
		logger:   engine.logger.With(zap.String("component", "sweeper")),
		interval: interval,
	}, nil
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over expired approvals and decisions. It is
// idempotent: a second pass over the same records is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepApprovals(ctx)
	s.sweepDecisions(ctx)
}

func (s *Sweeper) sweepApprovals(ctx context.Context) {
	expired, err := s.store.ListExpiredApprovals(ctx)
	if err != nil {
		s.logger.Error("Failed to list expired approvals", zap.Error(err))
		return
	}

	for _, approval := range expired {
		if err := s.expireApproval(ctx, approval); err != nil {
			s.logger.Error("Failed to expire approval",
				zap.String("approval_id", approval.ID), zap.Error(err))
		}
	}
}

func (s *Sweeper) expireApproval(ctx context.Context, approval schemas.PendingApproval) error {
	// The guarded resolve is the idempotence point: exactly one sweep
	// (or human) wins, and only the winner audits.
	resolution := resolutionFor(approval.DefaultAction)
	err := s.store.ResolveApproval(ctx, approval.ID, resolution, "system:sweeper",
		fmt.Sprintf("expired at %s", approval.ExpiresAt.Format(time.RFC3339)))
	if errors.Is(err, schemas.ErrAlreadyResolved) {
		return nil
	}
	if err != nil {
		return err
	}

	entry := safety.System(approval.TaskID, schemas.AuditApprovalExpired,
		fmt.Sprintf("approval %s expired, applying default action %s", approval.ID, approval.DefaultAction), true)
	if err := s.auditor.Record(ctx, entry); err != nil {
		return err
	}

	switch approval.DefaultAction {
	case schemas.ApprovalActionApprove:
		pending, err := s.engine.pendingApprovalCount(ctx, approval.TaskID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		if err := s.store.TransitionTask(ctx, approval.TaskID, schemas.TaskAwaitingApproval, schemas.TaskExecuting); err != nil {
			return err
		}
		return s.engine.enqueue(approval.TaskID)

	case schemas.ApprovalActionReject:
		return s.store.TransitionTask(ctx, approval.TaskID, schemas.TaskAwaitingApproval, schemas.TaskCancelled)

	case schemas.ApprovalActionEscalate:
		// Hand the gate to a fresh approval at the next level; the
		// task stays parked.
		return s.escalate(ctx, approval)

	default: // Pause
		return s.store.TransitionTask(ctx, approval.TaskID, schemas.TaskAwaitingApproval, schemas.TaskPaused)
	}
}

func (s *Sweeper) escalate(ctx context.Context, expired schemas.PendingApproval) error {
	now := time.Now().UTC()
	replacement := &schemas.PendingApproval{
		ID:            expired.ID + ":escalated",
		TaskID:        expired.TaskID,
		StepID:        expired.StepID,
		Reason:        "Escalated: " + expired.Reason,
		RiskLevel:     expired.RiskLevel,
		Approver:      "admin",
		Status:        schemas.ApprovalPending,
		DefaultAction: schemas.ApprovalActionPause,
		RequestedAt:   now,
		ExpiresAt:     now.Add(time.Hour),
	}
	return s.store.CreateApproval(ctx, replacement)
}

func resolutionFor(action schemas.DefaultApprovalAction) schemas.ApprovalStatus {
	switch action {
	case schemas.ApprovalActionApprove:
		return schemas.ApprovalApproved
	case schemas.ApprovalActionReject:
		return schemas.ApprovalRejected
	case schemas.ApprovalActionEscalate:
		return schemas.ApprovalEscalated
	default:
		return schemas.ApprovalExpired
	}
}

func (s *Sweeper) sweepDecisions(ctx context.Context) {
	expired, err := s.store.ListExpiredDecisions(ctx)
	if err != nil {
		s.logger.Error("Failed to list expired decisions", zap.Error(err))
		return
	}

	for _, decision := range expired {
		if err := s.expireDecision(ctx, decision); err != nil {
			s.logger.Error("Failed to expire decision",
				zap.String("decision_id", decision.ID), zap.Error(err))
		}
	}
}

// expireDecision resolves an expired decision to its recommended
// option (or the first, when none is marked) and resumes the task.
func (s *Sweeper) expireDecision(ctx context.Context, decision schemas.PendingDecision) error {
	if len(decision.Options) == 0 {
		return fmt.Errorf("decision %s has no options", decision.ID)
	}
	chosen := decision.Options[0].ID
	for _, option := range decision.Options {
		if option.Recommended {
			chosen = option.ID
			break
		}
	}

	err := s.store.ResolveDecision(ctx, decision.ID, chosen, "system:sweeper")
	if errors.Is(err, schemas.ErrAlreadyResolved) {
		return nil
	}
	if err != nil {
		return err
	}

	entry := safety.System(decision.TaskID, schemas.AuditDecisionTimeout,
		fmt.Sprintf("decision %s timed out, defaulting to option %s", decision.ID, chosen), true)
	if err := s.auditor.Record(ctx, entry); err != nil {
		return err
	}

	if err := s.store.TransitionTask(ctx, decision.TaskID, schemas.TaskAwaitingDecision, schemas.TaskExecuting); err != nil {
		return err
	}
	return s.engine.enqueue(decision.TaskID)
}
