package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

// TaskRepository stores care tasks in care_tasks. List-valued fields and
// metadata live in the details JSONB column.
type TaskRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

type taskDetails struct {
	Instructions []string            `json:"instructions"`
	Reminders    []domain.Reminder   `json:"reminders"`
	Dependencies []string            `json:"dependencies"`
	Metadata     domain.TaskMetadata `json:"metadata"`
}

// SaveTasks inserts tasks in one transaction. Redelivered tasks are ignored.
func (r *TaskRepository) SaveTasks(ctx context.Context, userID, uploadID string, tasks []domain.CareTask) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tasks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UTC()
	for _, task := range tasks {
		details, err := json.Marshal(taskDetails{
			Instructions: task.Instructions,
			Reminders:    task.Reminders,
			Dependencies: task.Dependencies,
			Metadata:     task.Metadata,
		})
		if err != nil {
			return fmt.Errorf("marshal task details: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO care_tasks (
	id, user_id, upload_id, title, description, type, status, action_type, category,
	scheduled_time, completed_time, estimated_duration, details, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
ON CONFLICT (id) DO NOTHING
`,
			task.ID, userID, uploadID, task.Title, task.Description, string(task.Type), string(task.Status),
			string(task.ActionType), string(task.Category), task.ScheduledTime, task.CompletedTime,
			task.EstimatedDuration, details, now,
		)
		if err != nil {
			return fmt.Errorf("insert care task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tasks tx: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, userID string) ([]domain.CareTask, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, description, type, status, action_type, category, scheduled_time, completed_time, estimated_duration, details
FROM care_tasks
WHERE user_id = $1
ORDER BY scheduled_time ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list care tasks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CareTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate care tasks: %w", err)
	}
	return out, nil
}

func (r *TaskRepository) GetTask(ctx context.Context, userID, taskID string) (*domain.CareTask, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, title, description, type, status, action_type, category, scheduled_time, completed_time, estimated_duration, details
FROM care_tasks
WHERE user_id = $1 AND id = $2
`, userID, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTaskNotFound, "get care task", fmt.Errorf("id=%s", taskID))
		}
		return nil, fmt.Errorf("get care task: %w", err)
	}
	return &task, nil
}

// UpdateTaskStatus writes the task's status and completion time.
func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, userID string, task *domain.CareTask) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE care_tasks
SET status = $3, completed_time = $4, updated_at = $5
WHERE user_id = $1 AND id = $2
`, userID, task.ID, string(task.Status), task.CompletedTime, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update care task status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update care task rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrTaskNotFound, "update care task status", fmt.Errorf("id=%s", task.ID))
	}
	return nil
}

// MarkOverdue flips pending tasks scheduled before now to overdue.
// Activity restrictions are skipped.
func (r *TaskRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE care_tasks
SET status = $1, updated_at = $4
WHERE status = $2 AND type <> $3 AND scheduled_time < $4
`, string(domain.TaskStatusOverdue), string(domain.TaskStatusPending), string(domain.TaskTypeActivityRestriction), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark overdue care tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark overdue rows affected: %w", err)
	}
	return rows, nil
}

type taskScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row taskScanner) (domain.CareTask, error) {
	var task domain.CareTask
	var taskType, status, action, category string
	var completed sql.NullTime
	var detailsRaw []byte
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&taskType,
		&status,
		&action,
		&category,
		&task.ScheduledTime,
		&completed,
		&task.EstimatedDuration,
		&detailsRaw,
	)
	if err != nil {
		return domain.CareTask{}, err
	}
	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.ActionType = domain.TaskActionType(action)
	task.Category = domain.TaskCategory(category)
	if completed.Valid {
		at := completed.Time.UTC()
		task.CompletedTime = &at
	}

	var details taskDetails
	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &details); err != nil {
			return domain.CareTask{}, fmt.Errorf("unmarshal care task details: %w", err)
		}
	}
	task.Instructions = orEmpty(details.Instructions)
	task.Dependencies = orEmpty(details.Dependencies)
	task.Reminders = details.Reminders
	if task.Reminders == nil {
		task.Reminders = []domain.Reminder{}
	}
	task.Metadata = details.Metadata
	return task, nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
