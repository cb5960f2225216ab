package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

var taskColumns = []string{
	"id", "title", "description", "type", "status", "action_type", "category",
	"scheduled_time", "completed_time", "estimated_duration", "details",
}

func TestTaskRepositoryListTasksDecodesDetails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewTaskRepository(db)
	scheduled := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(taskColumns).
		AddRow("t-1", "Take antibiotics", "Take antibiotics for 7 days", "medication", "pending", "do", "short_term",
			scheduled, nil, 15, []byte(`{"instructions":["Take antibiotics for 7 days"],"metadata":{"source":"pdf_extraction","confidence":0.8}}`))

	mock.ExpectQuery("FROM care_tasks").
		WithArgs("u-1").
		WillReturnRows(rows)

	tasks, err := repo.ListTasks(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Type != domain.TaskTypeMedication || task.Category != domain.CategoryShortTerm || task.CompletedTime != nil {
		t.Fatalf("unexpected task: %+v", task)
	}
	if len(task.Instructions) != 1 || task.Metadata.Confidence != 0.8 || task.Dependencies == nil || task.Reminders == nil {
		t.Fatalf("unexpected task details: %+v", task)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskRepositorySaveTasksRunsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewTaskRepository(db)
	tasks := []domain.CareTask{
		{ID: "t-1", Title: "Take antibiotics", Type: domain.TaskTypeMedication, Status: domain.TaskStatusPending},
		{ID: "t-2", Title: "No lifting", Type: domain.TaskTypeActivityRestriction, Status: domain.TaskStatusPending},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO care_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO care_tasks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.SaveTasks(context.Background(), "u-1", "up-1", tasks); err != nil {
		t.Fatalf("SaveTasks() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskRepositoryGetTaskReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewTaskRepository(db)
	mock.ExpectQuery("FROM care_tasks").
		WithArgs("u-1", "missing").
		WillReturnRows(sqlmock.NewRows(taskColumns))

	_, err = repo.GetTask(context.Background(), "u-1", "missing")
	if !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskRepositoryUpdateStatusReturnsErrorWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewTaskRepository(db)
	mock.ExpectExec("UPDATE care_tasks").
		WithArgs("u-1", "missing", "completed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateTaskStatus(context.Background(), "u-1", &domain.CareTask{ID: "missing", Status: domain.TaskStatusCompleted})
	if !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskRepositoryMarkOverdueSkipsRestrictions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewTaskRepository(db)
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE care_tasks").
		WithArgs("overdue", "pending", "activity_restriction", now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkOverdue(context.Background(), now)
	if err != nil {
		t.Fatalf("MarkOverdue() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 overdue tasks, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
