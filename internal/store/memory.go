// File: internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// Memory is an in-process IntentStore. It backs the one-shot compile
// CLI (no database required) and the engine/server tests. Semantics
// match the PostgreSQL store, including the status guards.
type Memory struct {
	mu        sync.RWMutex
	intents   map[string]*schemas.CompiledIntent
	tasks     map[string]*schemas.AutoTask
	approvals map[string]*schemas.PendingApproval
	decisions map[string]*schemas.PendingDecision
	audit     []schemas.AuditEntry
}

var _ schemas.IntentStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		intents:   make(map[string]*schemas.CompiledIntent),
		tasks:     make(map[string]*schemas.AutoTask),
		approvals: make(map[string]*schemas.PendingApproval),
		decisions: make(map[string]*schemas.PendingDecision),
	}
}

func (m *Memory) SaveCompiledIntent(_ context.Context, ci *schemas.CompiledIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ci
	m.intents[ci.ID] = &cp
	return nil
}

func (m *Memory) GetCompiledIntent(_ context.Context, id string) (*schemas.CompiledIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ci, ok := m.intents[id]
	if !ok {
		return nil, schemas.ErrNotFound
	}
	cp := *ci
	return &cp, nil
}

func (m *Memory) CreateTask(_ context.Context, task *schemas.AutoTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*schemas.AutoTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, schemas.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *Memory) ListTasks(_ context.Context, status schemas.AutoTaskStatus, limit, offset int) ([]schemas.AutoTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	var tasks []schemas.AutoTask
	for _, task := range m.tasks {
		if status != "" && task.Status != status {
			continue
		}
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })

	if offset >= len(tasks) {
		return nil, nil
	}
	tasks = tasks[offset:]
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (m *Memory) UpdateTask(_ context.Context, task *schemas.AutoTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return schemas.ErrNotFound
	}
	cp := *task
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[task.ID] = &cp
	return nil
}

func (m *Memory) TransitionTask(_ context.Context, id string, from, to schemas.AutoTaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return schemas.ErrNotFound
	}
	if task.Status != from {
		return fmt.Errorf("task %s is %s, not %s: %w", id, task.Status, from, schemas.ErrConflict)
	}
	task.Status = to
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) TaskStats(_ context.Context) (schemas.TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats schemas.TaskStats
	for _, task := range m.tasks {
		stats.Total++
		switch task.Status {
		case schemas.TaskExecuting:
			stats.Executing++
		case schemas.TaskPending, schemas.TaskCompiling:
			stats.Pending++
		case schemas.TaskCompleted:
			stats.Completed++
		case schemas.TaskFailed:
			stats.Failed++
		case schemas.TaskAwaitingApproval:
			stats.AwaitingApproval++
		case schemas.TaskAwaitingDecision:
			stats.AwaitingDecision++
		}
	}
	return stats, nil
}

func (m *Memory) CreateApproval(_ context.Context, a *schemas.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *Memory) ListApprovals(_ context.Context, taskID string) ([]schemas.PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var approvals []schemas.PendingApproval
	for _, a := range m.approvals {
		if a.TaskID == taskID {
			approvals = append(approvals, *a)
		}
	}
	sort.Slice(approvals, func(i, j int) bool { return approvals[i].RequestedAt.Before(approvals[j].RequestedAt) })
	return approvals, nil
}

func (m *Memory) ListExpiredApprovals(_ context.Context) ([]schemas.PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var approvals []schemas.PendingApproval
	for _, a := range m.approvals {
		if a.Status == schemas.ApprovalPending && !a.ExpiresAt.After(now) {
			approvals = append(approvals, *a)
		}
	}
	return approvals, nil
}

func (m *Memory) ResolveApproval(_ context.Context, id string, status schemas.ApprovalStatus, resolver, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return schemas.ErrNotFound
	}
	if a.Status != schemas.ApprovalPending {
		return fmt.Errorf("approval %s is %s: %w", id, a.Status, schemas.ErrAlreadyResolved)
	}
	now := time.Now().UTC()
	a.Status = status
	a.Resolver = resolver
	a.Comment = comment
	a.ResolvedAt = &now
	return nil
}

func (m *Memory) CreateDecision(_ context.Context, d *schemas.PendingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.decisions[d.ID] = &cp
	return nil
}

func (m *Memory) ListDecisions(_ context.Context, taskID string) ([]schemas.PendingDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var decisions []schemas.PendingDecision
	for _, d := range m.decisions {
		if d.TaskID == taskID {
			decisions = append(decisions, *d)
		}
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].CreatedAt.Before(decisions[j].CreatedAt) })
	return decisions, nil
}

func (m *Memory) ListExpiredDecisions(_ context.Context) ([]schemas.PendingDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var decisions []schemas.PendingDecision
	for _, d := range m.decisions {
		if d.Status == schemas.DecisionPending && !d.ExpiresAt.After(now) {
			decisions = append(decisions, *d)
		}
	}
	return decisions, nil
}

func (m *Memory) ResolveDecision(_ context.Context, id, optionID, resolver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return schemas.ErrNotFound
	}
	if d.Status != schemas.DecisionPending {
		return fmt.Errorf("decision %s is %s: %w", id, d.Status, schemas.ErrAlreadyResolved)
	}
	now := time.Now().UTC()
	d.Status = schemas.DecisionResolved
	d.ChosenOption = optionID
	d.Resolver = resolver
	d.ResolvedAt = &now
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, entry *schemas.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, taskID string) ([]schemas.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []schemas.AuditEntry
	for _, e := range m.audit {
		if e.TaskID == taskID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
