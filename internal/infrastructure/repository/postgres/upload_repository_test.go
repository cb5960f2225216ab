package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*UploadRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &UploadRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetReturnsUploadNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT upload_id, status, stage").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDecodesStoredResult(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"upload_id", "status", "stage", "progress", "message", "error_message", "result", "updated_at"}).
		AddRow("up-1", "completed", "completed", 100.0, "Processing complete!", "",
			[]byte(`{"tasks":[{"id":"t-1","title":"Take antibiotics"}],"confidence":0.8}`), at)
	mock.ExpectQuery("FROM upload_attempts").
		WithArgs("up-1").
		WillReturnRows(rows)

	status, err := repo.Get(context.Background(), "up-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if status.Status != domain.UploadStateCompleted || status.Progress != 100 || !status.At.Equal(at) {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Result == nil || len(status.Result.Tasks) != 1 || status.Result.Tasks[0].Title != "Take antibiotics" {
		t.Fatalf("unexpected result: %+v", status.Result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveUpsertsSnapshot(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO upload_attempts").
		WithArgs("up-1", "user-1", "uploading", "upload", 30.0, "Uploading to server...", "", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), "user-1", domain.UploadStatus{
		UploadID: "up-1",
		Status:   domain.UploadStateUploading,
		Stage:    domain.StageUpload,
		Progress: 30,
		Message:  "Uploading to server...",
		At:       at,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveFailureIsTemporary(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO upload_attempts").WillReturnError(sql.ErrConnDone)

	err := repo.Save(context.Background(), "user-1", domain.UploadStatus{UploadID: "up-1", Status: domain.UploadStateFailed})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestDeleteReturnsUploadNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("DELETE FROM upload_attempts").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS upload_attempts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
