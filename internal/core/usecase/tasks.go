package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
)

// CareTaskUseCase owns care tasks once an upload has completed.
type CareTaskUseCase struct {
	store ports.TaskStore
	now   func() time.Time
}

func NewCareTaskUseCase(store ports.TaskStore) *CareTaskUseCase {
	return &CareTaskUseCase{store: store, now: time.Now}
}

// HandleExtractionCompleted stores the tasks of a completed upload. Redelivery
// of the same event is harmless.
func (uc *CareTaskUseCase) HandleExtractionCompleted(ctx context.Context, event domain.ExtractionCompleted) error {
	if strings.TrimSpace(event.UploadID) == "" || strings.TrimSpace(event.UserID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "handle extraction event", errors.New("upload id and user id are required"))
	}

	tasks := make([]domain.CareTask, 0, len(event.Result.Tasks))
	for _, task := range event.Result.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			slog.Warn("care_task_skipped", "upload_id", event.UploadID, "reason", "missing id")
			continue
		}
		if task.Status == "" {
			task.Status = domain.TaskStatusPending
		}
		tasks = append(tasks, task)
	}

	if err := uc.store.SaveTasks(ctx, event.UserID, event.UploadID, tasks); err != nil {
		return fmt.Errorf("save care tasks: %w", err)
	}
	slog.Info("care_tasks_stored", "upload_id", event.UploadID, "user_id", event.UserID, "tasks", len(tasks))
	return nil
}

// PublishExtractionCompleted lets the use case stand in for the event bus
// when API and worker share a process.
func (uc *CareTaskUseCase) PublishExtractionCompleted(ctx context.Context, event domain.ExtractionCompleted) error {
	return uc.HandleExtractionCompleted(ctx, event)
}

func (uc *CareTaskUseCase) ListTasks(ctx context.Context, userID string) ([]domain.CareTask, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list care tasks", errors.New("user id is required"))
	}
	tasks, err := uc.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list care tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus applies a status transition. Invalid transitions are rejected
// with ErrInvalidTransition and leave the task untouched.
func (uc *CareTaskUseCase) UpdateStatus(ctx context.Context, userID, taskID string, to domain.TaskStatus) (*domain.CareTask, error) {
	task, err := uc.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.Transition(to, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.store.UpdateTaskStatus(ctx, userID, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (uc *CareTaskUseCase) SweepOverdue(ctx context.Context) (int64, error) {
	n, err := uc.store.MarkOverdue(ctx, uc.now())
	if err != nil {
		return 0, fmt.Errorf("mark overdue care tasks: %w", err)
	}
	if n > 0 {
		slog.Info("care_tasks_overdue", "count", n)
	}
	return n, nil
}
