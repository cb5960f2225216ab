package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	memstore "github.com/kirillkom/recovery-tracker/internal/infrastructure/repository/memory"
)

func newCareTaskUseCase(now time.Time) *CareTaskUseCase {
	uc := NewCareTaskUseCase(memstore.NewTaskStore())
	uc.now = func() time.Time { return now }
	return uc
}

func completedEvent(base time.Time) domain.ExtractionCompleted {
	return domain.ExtractionCompleted{
		UploadID: "up-1",
		UserID:   "user-1",
		Result: domain.ProcessingResult{Tasks: []domain.CareTask{
			{ID: "t-1", Title: "Take antibiotics", Type: domain.TaskTypeMedication, ScheduledTime: base.Add(2 * time.Hour)},
			{ID: "t-2", Title: "No driving", Type: domain.TaskTypeActivityRestriction, ScheduledTime: base.Add(time.Hour), Status: domain.TaskStatusPending},
			{Title: "missing id"},
		}},
	}
}

func TestHandleExtractionCompletedStoresTasks(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	uc := newCareTaskUseCase(base)
	ctx := context.Background()

	if err := uc.HandleExtractionCompleted(ctx, completedEvent(base)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := uc.HandleExtractionCompleted(ctx, completedEvent(base)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	tasks, err := uc.ListTasks(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t-2" || tasks[1].Status != domain.TaskStatusPending {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestHandleExtractionCompletedRequiresOwner(t *testing.T) {
	uc := newCareTaskUseCase(time.Now())
	err := uc.HandleExtractionCompleted(context.Background(), domain.ExtractionCompleted{UploadID: "up-1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateStatusFollowsTransitions(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	uc := newCareTaskUseCase(base)
	ctx := context.Background()
	_ = uc.HandleExtractionCompleted(ctx, completedEvent(base))

	task, err := uc.UpdateStatus(ctx, "user-1", "t-1", domain.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedTime == nil || !task.CompletedTime.Equal(base) {
		t.Fatalf("expected completion time, got %+v", task.CompletedTime)
	}
	if _, err := uc.UpdateStatus(ctx, "user-1", "t-1", domain.TaskStatusInProgress); !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := uc.UpdateStatus(ctx, "user-1", "missing", domain.TaskStatusCompleted); !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected task not found, got %v", err)
	}
}

func TestSweepOverdueSkipsRestrictions(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	uc := newCareTaskUseCase(base)
	_ = uc.HandleExtractionCompleted(ctx, completedEvent(base))

	uc.now = func() time.Time { return base.Add(3 * time.Hour) }
	n, err := uc.SweepOverdue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one overdue task, got %d err=%v", n, err)
	}
	tasks, _ := uc.ListTasks(ctx, "user-1")
	for _, task := range tasks {
		if task.ID == "t-2" && task.Status != domain.TaskStatusPending {
			t.Fatalf("restriction must stay pending, got %s", task.Status)
		}
	}
}
