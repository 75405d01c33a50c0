package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("task record not found")

const taskColumns = `uuid, key_hash, task_source, task_type, owner, repo, project_id, number,
	status, created_at, started_at, completed_at, process_id, hostname,
	llm_provider, model, context_length, llm_call_count, tool_call_count,
	total_tokens, compression_count, error_message, requester`

func scanTaskRecord(row interface{ Scan(...any) error }) (*TaskRecord, error) {
	var r TaskRecord
	err := row.Scan(
		&r.UUID, &r.KeyHash, &r.TaskSource, &r.TaskType, &r.Owner, &r.Repo, &r.ProjectID, &r.Number,
		&r.Status, &r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.ProcessID, &r.Hostname,
		&r.LLMProvider, &r.Model, &r.ContextLength, &r.LLMCallCount, &r.ToolCallCount,
		&r.TotalTokens, &r.CompressionCount, &r.ErrorMessage, &r.Requester,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert creates a new index row for a task entering the running state.
func (c *Client) Insert(ctx context.Context, r *TaskRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tasks (uuid, key_hash, task_source, task_type, owner, repo, project_id, number,
			status, created_at, started_at, process_id, hostname, llm_provider, model, context_length,
			requester)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.UUID, r.KeyHash, r.TaskSource, r.TaskType, r.Owner, r.Repo, r.ProjectID, r.Number,
		r.Status, r.CreatedAt, r.StartedAt, r.ProcessID, r.Hostname, r.LLMProvider, r.Model,
		r.ContextLength, r.Requester,
	)
	if err != nil {
		return fmt.Errorf("insert task record: %w", err)
	}
	return nil
}

// GetByUUID retrieves a task record by its primary key.
func (c *Client) GetByUUID(ctx context.Context, uuid string) (*TaskRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE uuid = $1`, uuid)
	return scanTaskRecord(row)
}

// UpdateStatus transitions a task's status, setting completed_at when the
// new status is terminal. Callers enforce that transitions are monotonic
// per the task lifecycle (running -> paused|completed|failed|stopped).
func (c *Client) UpdateStatus(ctx context.Context, uuid string, status Status, errMsg string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, error_message = $3 WHERE uuid = $4`,
		status, completedAt, errMsg, uuid,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// MarkStarted records the started_at timestamp, process id, and hostname
// once a task's consumer goroutine has claimed it.
func (c *Client) MarkStarted(ctx context.Context, uuid string, processID int, hostname string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET started_at = $1, process_id = $2, hostname = $3 WHERE uuid = $4`,
		time.Now().UTC(), processID, hostname, uuid,
	)
	if err != nil {
		return fmt.Errorf("mark task started: %w", err)
	}
	return nil
}

// IncrementCounters adds the given deltas to a task's running counters.
// Called after each LLM call, tool call, and compression pass.
func (c *Client) IncrementCounters(ctx context.Context, uuid string, llmCalls, toolCalls, tokens, compressions int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET
			llm_call_count = llm_call_count + $1,
			tool_call_count = tool_call_count + $2,
			total_tokens = total_tokens + $3,
			compression_count = compression_count + $4
		WHERE uuid = $5`,
		llmCalls, toolCalls, tokens, compressions, uuid,
	)
	if err != nil {
		return fmt.Errorf("increment task counters: %w", err)
	}
	return nil
}

// FindInheritable returns the most recently completed or stopped task
// whose key hash matches, completed within expiry of now. Returns
// ErrNotFound if none qualifies.
func (c *Client) FindInheritable(ctx context.Context, keyHash string, expiry time.Duration, now time.Time) (*TaskRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE key_hash = $1
		  AND status IN ('completed', 'stopped')
		  AND completed_at >= $2
		ORDER BY completed_at DESC
		LIMIT 1`,
		keyHash, now.Add(-expiry),
	)
	return scanTaskRecord(row)
}

// FindStaleRunning returns tasks still marked running whose owning process
// is no longer alive on this host — used by the producer's resumption
// sweep on startup to detect crashed runs.
func (c *Client) FindStaleRunning(ctx context.Context, hostname string) ([]*TaskRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE status = $1 AND hostname = $2`,
		StatusRunning, hostname,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale running tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		r, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByStatus returns all task records with the given status, ordered by
// creation time.
func (c *Client) ListByStatus(ctx context.Context, status Status) ([]*TaskRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		r, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
