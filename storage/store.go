package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// ErrNotFound is returned when no task row matches.
var ErrNotFound = errors.New("task not found")

// ResultStore persists finished tasks and their parsed responses.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore wraps a database opened by config.InitDatabase.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// SaveTask upserts the task row and, when present, its response.
func (s *ResultStore) SaveTask(ctx context.Context, task *models.AutomationTask) error {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, prompt, status, created_at, started_at, completed_at,
			retry_count, max_retries, error_message, error_kind, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			retry_count = excluded.retry_count,
			error_message = excluded.error_message,
			error_kind = excluded.error_kind,
			metadata = excluded.metadata`,
		task.TaskID, task.Prompt, task.Status.String(), task.CreatedAt.UnixMilli(),
		unixMilli(task.StartedAt), unixMilli(task.CompletedAt),
		task.RetryCount, task.MaxRetries,
		nullString(task.ErrorMessage), nullString(errorKind(task.ErrorKind)), string(metadata))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.TaskID, err)
	}

	if resp := task.Response; resp != nil {
		body, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO responses (response_id, task_id, conversation_id, answer,
				confidence_score, response_time_ms, device_used, screenshot_path, created_at, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resp.ResponseID, task.TaskID, nullString(resp.ConversationID), resp.Answer,
			resp.ConfidenceScore, resp.ResponseTime.Milliseconds(), resp.DeviceUsed,
			nullString(resp.ScreenshotPath), resp.CreatedAt.UnixMilli(), string(body))
		if err != nil {
			return fmt.Errorf("save response %s: %w", resp.ResponseID, err)
		}
	}
	return tx.Commit()
}

const selectTask = `
	SELECT t.task_id, t.prompt, t.status, t.created_at, t.started_at, t.completed_at,
		t.retry_count, t.max_retries, t.error_message, t.error_kind, t.metadata,
		(SELECT r.body FROM responses r WHERE r.task_id = t.task_id ORDER BY r.created_at DESC LIMIT 1)
	FROM tasks t`

// GetTask loads one task with its latest response.
func (s *ResultStore) GetTask(ctx context.Context, taskID string) (*models.AutomationTask, error) {
	row := s.db.QueryRowContext(ctx, selectTask+` WHERE t.task_id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// RecentTasks returns up to n tasks, most recently finished first.
func (s *ResultStore) RecentTasks(ctx context.Context, n int) ([]*models.AutomationTask, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+`
		ORDER BY COALESCE(t.completed_at, t.created_at) DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.AutomationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.AutomationTask, error) {
	var (
		task                   models.AutomationTask
		status                 string
		created                int64
		started, completed     sql.NullInt64
		errMessage, kind, meta sql.NullString
		body                   sql.NullString
	)
	err := row.Scan(&task.TaskID, &task.Prompt, &status, &created, &started, &completed,
		&task.RetryCount, &task.MaxRetries, &errMessage, &kind, &meta, &body)
	if err != nil {
		return nil, err
	}

	if task.Status, err = models.ParseTaskStatus(status); err != nil {
		return nil, err
	}
	task.CreatedAt = time.UnixMilli(created)
	task.StartedAt = fromMilli(started)
	task.CompletedAt = fromMilli(completed)
	task.ErrorMessage = errMessage.String
	if kind.Valid {
		if err := task.ErrorKind.UnmarshalText([]byte(kind.String)); err != nil {
			return nil, err
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", task.TaskID, err)
		}
	}
	if body.Valid {
		var resp models.ParsedResponse
		if err := json.Unmarshal([]byte(body.String), &resp); err != nil {
			return nil, fmt.Errorf("decode response of %s: %w", task.TaskID, err)
		}
		task.Response = &resp
	}
	return &task, nil
}

func unixMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func errorKind(k models.ErrorKind) string {
	if k == models.KindUnknown {
		return ""
	}
	return k.String()
}
