// File: internal/engine/engine.go

// Package engine executes compiled intents. It owns the task state
// machine: a bounded worker pool consumes task IDs from a queue and
// drives each task through its lifecycle, parking it at human gates
// and resuming it when they resolve. All state lives in the store;
// the engine itself can restart without losing tasks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/config"
	"github.com/xkilldash9x/intentc/internal/safety"
)

// ErrQueueFull is returned by Submit when the task queue cannot accept
// another task without blocking.
var ErrQueueFull = errors.New("task queue is full")

// Engine manages the in-process distribution of tasks to a pool of
// workers.
type Engine struct {
	cfg     config.Interface
	logger  *zap.Logger
	store   schemas.IntentStore
	auditor *safety.Auditor
	script  schemas.ScriptEngine
	queue   chan string
	wg      sync.WaitGroup

	// backoffFactory builds the retry policy for step execution from
	// the step's effective retry config. Tests inject a constant
	// policy to avoid real exponential waits.
	backoffFactory func(rc schemas.RetryConfig) backoff.BackOff

	closeOnce sync.Once

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool
}

// New creates an Engine. Dependencies arrive as interfaces so the
// composition root owns all concrete wiring.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	store schemas.IntentStore,
	auditor *safety.Auditor,
	script schemas.ScriptEngine,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if auditor == nil {
		return nil, errors.New("auditor cannot be nil")
	}
	if script == nil {
		return nil, errors.New("script engine cannot be nil")
	}

	queueSize := cfg.Engine().QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "engine")),
		store:   store,
		auditor: auditor,
		script:  script,
		queue:   make(chan string, queueSize),
		backoffFactory: func(rc schemas.RetryConfig) backoff.BackOff {
			expo := backoff.NewExponentialBackOff()
			expo.InitialInterval = time.Duration(rc.BackoffMs) * time.Millisecond
			return backoff.WithMaxRetries(expo, uint64(rc.MaxRetries))
		},
	}, nil
}

// Start launches the worker pool. Calling Start on a running engine is
// a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	e.logger.Info("Starting engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1)
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (e *Engine) Stop() {
	e.logger.Info("Stopping engine... waiting for workers to finish.")
	e.closeOnce.Do(func() { close(e.queue) })
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Engine stopped gracefully.")
}

func (e *Engine) runWorker(ctx context.Context, workerID int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case taskID, ok := <-e.queue:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down gracefully.")
				return
			}
			if err := e.runTask(ctx, taskID); err != nil {
				logger.Error("Task run failed", zap.String("task_id", taskID), zap.Error(err))
			}
		}
	}
}

// enqueue hands a task ID to the pool without blocking.
func (e *Engine) enqueue(taskID string) error {
	select {
	case e.queue <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit creates a new task for a previously compiled intent and
// enqueues it for execution.
func (e *Engine) Submit(ctx context.Context, compiledIntentID string, mode schemas.ExecutionMode, priority schemas.TaskPriority) (*schemas.AutoTask, error) {
	ci, err := e.store.GetCompiledIntent(ctx, compiledIntentID)
	if err != nil {
		return nil, fmt.Errorf("loading compiled intent %s: %w", compiledIntentID, err)
	}

	if mode == "" {
		mode = schemas.ModeAuto
	}
	if priority == "" {
		priority = schemas.TaskPriorityMedium
	}

	now := time.Now().UTC()
	task := &schemas.AutoTask{
		ID:               uuid.NewString(),
		CompiledIntentID: ci.ID,
		Title:            ci.Plan.Name,
		Status:           schemas.TaskPending,
		Mode:             mode,
		Priority:         priority,
		TotalSteps:       len(ci.Plan.Steps),
		SessionID:        ci.SessionID,
		BotID:            ci.BotID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if task.Title == "" {
		task.Title = ci.OriginalIntent
	}

	entry := safety.System(task.ID, schemas.AuditTaskCreated, "task created for compiled intent "+ci.ID, true)
	entry.SessionID = task.SessionID
	entry.BotID = task.BotID
	if err := e.auditor.Record(ctx, entry); err != nil {
		return nil, err
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if err := e.enqueue(task.ID); err != nil {
		return nil, err
	}

	e.logger.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("compiled_intent_id", ci.ID),
		zap.String("mode", string(mode)),
		zap.String("priority", string(priority)))
	return task, nil
}

// Pause parks an executing task. Only Executing tasks can be paused;
// anything else returns the store's conflict error.
func (e *Engine) Pause(ctx context.Context, taskID string) error {
	if err := e.auditor.Record(ctx, safety.System(taskID, schemas.AuditTaskPaused, "pause requested", true)); err != nil {
		return err
	}
	return e.store.TransitionTask(ctx, taskID, schemas.TaskExecuting, schemas.TaskPaused)
}

// Resume re-queues a paused task.
func (e *Engine) Resume(ctx context.Context, taskID string) error {
	if err := e.auditor.Record(ctx, safety.System(taskID, schemas.AuditTaskResumed, "resume requested", true)); err != nil {
		return err
	}
	if err := e.store.TransitionTask(ctx, taskID, schemas.TaskPaused, schemas.TaskExecuting); err != nil {
		return err
	}
	return e.enqueue(taskID)
}

// RollbackReport summarizes what a cancellation could and could not
// undo.
type RollbackReport struct {
	RolledBack      []string `json:"rolled_back"`
	NotRollbackable []string `json:"not_rollbackable"`
}

// Cancel aborts a task from any non-terminal state and rolls back its
// completed rollback-capable steps in reverse completion order.
func (e *Engine) Cancel(ctx context.Context, taskID string) (*RollbackReport, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is already %s: %w", taskID, task.Status, schemas.ErrConflict)
	}

	if err := e.auditor.Record(ctx, safety.System(taskID, schemas.AuditTaskCancelled, "cancel requested", true)); err != nil {
		return nil, err
	}
	if err := e.store.TransitionTask(ctx, taskID, task.Status, schemas.TaskCancelled); err != nil {
		return nil, err
	}

	ci, err := e.store.GetCompiledIntent(ctx, task.CompiledIntentID)
	if err != nil {
		return nil, fmt.Errorf("loading compiled intent for rollback: %w", err)
	}

	report := e.rollback(ctx, task, ci)

	task.Status = schemas.TaskCancelled
	task.RolledBackSteps = report.RolledBack
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("recording rollback result: %w", err)
	}
	return report, nil
}

// Approve resolves a pending approval. An approval unblocks the task
// once no pending approvals remain; a rejection cancels it.
func (e *Engine) Approve(ctx context.Context, taskID, approvalID string, approve bool, resolver, comment string) error {
	status := schemas.ApprovalApproved
	event := schemas.AuditApprovalGranted
	if !approve {
		status = schemas.ApprovalRejected
		event = schemas.AuditApprovalDenied
	}

	entry := safety.System(taskID, event, fmt.Sprintf("approval %s resolved by %s", approvalID, resolver), true)
	entry.Actor = schemas.AuditActor{Type: schemas.ActorUser, ID: resolver}
	if err := e.auditor.Record(ctx, entry); err != nil {
		return err
	}
	if err := e.store.ResolveApproval(ctx, approvalID, status, resolver, comment); err != nil {
		return err
	}

	if !approve {
		if err := e.store.TransitionTask(ctx, taskID, schemas.TaskAwaitingApproval, schemas.TaskCancelled); err != nil && !errors.Is(err, schemas.ErrConflict) {
			return err
		}
		return nil
	}

	pending, err := e.pendingApprovalCount(ctx, taskID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	if err := e.store.TransitionTask(ctx, taskID, schemas.TaskAwaitingApproval, schemas.TaskExecuting); err != nil {
		return err
	}
	return e.enqueue(taskID)
}

// Decide resolves a pending decision and resumes the task at the same
// cursor.
func (e *Engine) Decide(ctx context.Context, taskID, decisionID, optionID, resolver string) error {
	entry := safety.System(taskID, schemas.AuditDecisionMade, fmt.Sprintf("decision %s resolved to %s", decisionID, optionID), true)
	entry.Actor = schemas.AuditActor{Type: schemas.ActorUser, ID: resolver}
	if err := e.auditor.Record(ctx, entry); err != nil {
		return err
	}
	if err := e.store.ResolveDecision(ctx, decisionID, optionID, resolver); err != nil {
		return err
	}
	if err := e.store.TransitionTask(ctx, taskID, schemas.TaskAwaitingDecision, schemas.TaskExecuting); err != nil {
		return err
	}
	return e.enqueue(taskID)
}

func (e *Engine) pendingApprovalCount(ctx context.Context, taskID string) (int, error) {
	approvals, err := e.store.ListApprovals(ctx, taskID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range approvals {
		if a.Status == schemas.ApprovalPending {
			count++
		}
	}
	return count, nil
}
