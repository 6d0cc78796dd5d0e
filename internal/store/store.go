// File: internal/store/store.go

// Package store persists compiled intents, tasks, approvals, decisions
// and the audit log in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides a PostgreSQL implementation of schemas.IntentStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.IntentStore = (*Store)(nil)

// New creates a new store instance, verifies the connection and
// applies the schema.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("store requires a database pool")
	}
	if logger == nil {
		return nil, fmt.Errorf("store requires a logger")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		pool: pool,
		log:  logger.Named("store"),
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// -- Compiled intents --

// SaveCompiledIntent stores the immutable compile result. The scalar
// columns exist for querying; the full record lives in the data column.
func (s *Store) SaveCompiledIntent(ctx context.Context, ci *schemas.CompiledIntent) error {
	data, err := json.Marshal(ci)
	if err != nil {
		return fmt.Errorf("failed to marshal compiled intent: %w", err)
	}

	sql := `
        INSERT INTO compiled_intents (id, bot_id, session_id, original_intent, basic_program, confidence, compiled_at, data)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	_, err = s.pool.Exec(ctx, sql,
		ci.ID, ci.BotID, ci.SessionID, ci.OriginalIntent,
		ci.BasicProgram, ci.Confidence, ci.CompiledAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert compiled intent: %w", err)
	}
	return nil
}

func (s *Store) GetCompiledIntent(ctx context.Context, id string) (*schemas.CompiledIntent, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM compiled_intents WHERE id = $1;`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query compiled intent: %w", err)
	}

	var ci schemas.CompiledIntent
	if err := json.Unmarshal(data, &ci); err != nil {
		return nil, fmt.Errorf("failed to unmarshal compiled intent: %w", err)
	}
	return &ci, nil
}

// -- Tasks --

const taskColumns = `id, compiled_intent_id, title, status, mode, priority, cursor, total_steps,
       step_results, error, rolled_back_steps, session_id, bot_id,
       created_at, updated_at, started_at, completed_at`

func (s *Store) CreateTask(ctx context.Context, task *schemas.AutoTask) error {
	stepResults, err := json.Marshal(task.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}
	taskErr, err := marshalNullable(task.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal task error: %w", err)
	}
	rolledBack, err := json.Marshal(task.RolledBackSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal rolled back steps: %w", err)
	}

	sql := `
        INSERT INTO auto_tasks (` + taskColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
    `
	_, err = s.pool.Exec(ctx, sql,
		task.ID, task.CompiledIntentID, task.Title, string(task.Status),
		string(task.Mode), string(task.Priority), task.Cursor, task.TotalSteps,
		stepResults, taskErr, rolledBack, task.SessionID, task.BotID,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(), nullableTime(task.StartedAt), nullableTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*schemas.AutoTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM auto_tasks WHERE id = $1;`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first. An empty status matches all.
func (s *Store) ListTasks(ctx context.Context, status schemas.AutoTaskStatus, limit, offset int) ([]schemas.AutoTask, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM auto_tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2;`,
			limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM auto_tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3;`,
			string(status), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []schemas.AutoTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during task row iteration: %w", err)
	}
	return tasks, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *schemas.AutoTask) error {
	stepResults, err := json.Marshal(task.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}
	taskErr, err := marshalNullable(task.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal task error: %w", err)
	}
	rolledBack, err := json.Marshal(task.RolledBackSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal rolled back steps: %w", err)
	}

	sql := `
        UPDATE auto_tasks
        SET status = $2, cursor = $3, step_results = $4, error = $5,
            rolled_back_steps = $6, updated_at = $7, started_at = $8, completed_at = $9
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, sql,
		task.ID, string(task.Status), task.Cursor, stepResults, taskErr,
		rolledBack, time.Now().UTC(), nullableTime(task.StartedAt), nullableTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.ErrNotFound
	}
	return nil
}

// TransitionTask performs a compare-and-set status change. The WHERE
// guard on the current status makes concurrent transitions safe: the
// loser of a race sees zero rows and gets ErrConflict.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to schemas.AutoTaskStatus) error {
	sql := `UPDATE auto_tasks SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2;`
	tag, err := s.pool.Exec(ctx, sql, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing task from a lost race.
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM auto_tasks WHERE id = $1;`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check task status: %w", err)
		}
		return fmt.Errorf("task %s is %s, not %s: %w", id, status, from, schemas.ErrConflict)
	}
	return nil
}

func (s *Store) TaskStats(ctx context.Context) (schemas.TaskStats, error) {
	var stats schemas.TaskStats

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM auto_tasks GROUP BY status;`)
	if err != nil {
		return stats, fmt.Errorf("failed to query task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		switch schemas.AutoTaskStatus(status) {
		case schemas.TaskExecuting:
			stats.Executing = count
		case schemas.TaskPending, schemas.TaskCompiling:
			stats.Pending += count
		case schemas.TaskCompleted:
			stats.Completed = count
		case schemas.TaskFailed:
			stats.Failed = count
		case schemas.TaskAwaitingApproval:
			stats.AwaitingApproval = count
		case schemas.TaskAwaitingDecision:
			stats.AwaitingDecision = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error during stats row iteration: %w", err)
	}
	return stats, nil
}

// -- helpers --

func scanTask(row pgx.Row) (*schemas.AutoTask, error) {
	var (
		task                   schemas.AutoTask
		status, mode, prio     string
		stepResults, taskErr   []byte
		rolledBack             []byte
		startedAt, completedAt *time.Time
	)
	err := row.Scan(
		&task.ID, &task.CompiledIntentID, &task.Title, &status, &mode, &prio,
		&task.Cursor, &task.TotalSteps, &stepResults, &taskErr, &rolledBack,
		&task.SessionID, &task.BotID, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.Status = schemas.AutoTaskStatus(status)
	task.Mode = schemas.ExecutionMode(mode)
	task.Priority = schemas.TaskPriority(prio)
	task.StartedAt = startedAt
	task.CompletedAt = completedAt

	if len(stepResults) > 0 {
		if err := json.Unmarshal(stepResults, &task.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}
	if len(taskErr) > 0 && string(taskErr) != "null" {
		if err := json.Unmarshal(taskErr, &task.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task error: %w", err)
		}
	}
	if len(rolledBack) > 0 {
		if err := json.Unmarshal(rolledBack, &task.RolledBackSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rolled back steps: %w", err)
		}
	}
	return &task, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
