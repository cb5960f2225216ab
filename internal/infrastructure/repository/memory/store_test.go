package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

func TestStatusStoreKeepsResultAcrossLaterSnapshots(t *testing.T) {
	store := NewStatusStore()
	ctx := context.Background()

	result := &domain.ProcessingResult{Confidence: 0.8}
	_ = store.Save(ctx, "u-1", domain.UploadStatus{UploadID: "up-1", Status: domain.UploadStateCompleted, Result: result})
	_ = store.Save(ctx, "u-1", domain.UploadStatus{UploadID: "up-1", Status: domain.UploadStateCompleted, Progress: 100})

	got, err := store.Get(ctx, "up-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Result == nil || got.Result.Confidence != 0.8 {
		t.Fatalf("expected result to survive, got %+v", got)
	}
}

func TestStatusStoreDeleteAndMissing(t *testing.T) {
	store := NewStatusStore()
	ctx := context.Background()
	_ = store.Save(ctx, "u-1", domain.UploadStatus{UploadID: "up-1", Status: domain.UploadStateUploading})

	if err := store.Delete(ctx, "up-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "up-1"); !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "up-1"); !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound on second delete, got %v", err)
	}
}

func TestTaskStoreListsPerUserInScheduleOrder(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_ = store.SaveTasks(ctx, "u-1", "up-1", []domain.CareTask{
		{ID: "late", ScheduledTime: base.Add(48 * time.Hour), Status: domain.TaskStatusPending},
		{ID: "early", ScheduledTime: base, Status: domain.TaskStatusPending},
	})
	_ = store.SaveTasks(ctx, "u-2", "up-2", []domain.CareTask{{ID: "other", ScheduledTime: base}})

	tasks, _ := store.ListTasks(ctx, "u-1")
	if len(tasks) != 2 || tasks[0].ID != "early" || tasks[1].ID != "late" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if _, err := store.GetTask(ctx, "u-1", "other"); !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected other user's task to be hidden, got %v", err)
	}
}

func TestTaskStoreMarkOverdue(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_ = store.SaveTasks(ctx, "u-1", "up-1", []domain.CareTask{
		{ID: "due", Type: domain.TaskTypeMedication, ScheduledTime: base, Status: domain.TaskStatusPending},
		{ID: "restriction", Type: domain.TaskTypeActivityRestriction, ScheduledTime: base, Status: domain.TaskStatusPending},
		{ID: "future", Type: domain.TaskTypeMedication, ScheduledTime: base.Add(72 * time.Hour), Status: domain.TaskStatusPending},
	})

	n, err := store.MarkOverdue(ctx, base.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one overdue task, got %d err=%v", n, err)
	}
	task, _ := store.GetTask(ctx, "u-1", "due")
	if task.Status != domain.TaskStatusOverdue {
		t.Fatalf("expected due task to be overdue, got %s", task.Status)
	}
}
