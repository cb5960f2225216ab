package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

// UploadRepository keeps the latest status snapshot of every upload attempt.
type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the upload_attempts and care_tasks tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS upload_attempts (
	upload_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	result JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_attempts_user ON upload_attempts(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS care_tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	upload_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	action_type TEXT NOT NULL,
	category TEXT NOT NULL,
	scheduled_time TIMESTAMPTZ NOT NULL,
	completed_time TIMESTAMPTZ,
	estimated_duration INTEGER NOT NULL DEFAULT 0,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_care_tasks_user_scheduled ON care_tasks(user_id, scheduled_time);
CREATE INDEX IF NOT EXISTS idx_care_tasks_pending ON care_tasks(scheduled_time) WHERE status = 'pending';
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Save upserts the snapshot. A result is only ever added, never cleared.
func (r *UploadRepository) Save(ctx context.Context, userID string, status domain.UploadStatus) error {
	var resultJSON []byte
	if status.Result != nil {
		raw, err := json.Marshal(status.Result)
		if err != nil {
			return fmt.Errorf("marshal processing result: %w", err)
		}
		resultJSON = raw
	}
	at := status.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO upload_attempts (
	upload_id, user_id, status, stage, progress, message, error_message, result, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (upload_id) DO UPDATE SET
	status = EXCLUDED.status,
	stage = EXCLUDED.stage,
	progress = EXCLUDED.progress,
	message = EXCLUDED.message,
	error_message = EXCLUDED.error_message,
	result = COALESCE(EXCLUDED.result, upload_attempts.result),
	updated_at = EXCLUDED.updated_at
`,
		status.UploadID, userID, string(status.Status), string(status.Stage), status.Progress,
		status.Message, status.Error, resultJSON, at,
	)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "save upload status", err)
	}
	return nil
}

func (r *UploadRepository) Get(ctx context.Context, uploadID string) (*domain.UploadStatus, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT upload_id, status, stage, progress, message, error_message, result, updated_at
FROM upload_attempts
WHERE upload_id = $1
`, uploadID)

	var status domain.UploadStatus
	var state string
	var stage sql.NullString
	var resultRaw []byte

	err := row.Scan(
		&status.UploadID, &state, &stage, &status.Progress, &status.Message, &status.Error,
		&resultRaw, &status.At,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload status", fmt.Errorf("upload %s", uploadID))
		}
		return nil, fmt.Errorf("scan upload status: %w", err)
	}

	status.Status = domain.UploadState(state)
	status.Stage = domain.Stage(stage.String)
	if len(resultRaw) > 0 {
		var result domain.ProcessingResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal processing result: %w", err)
		}
		status.Result = &result
	}
	return &status, nil
}

func (r *UploadRepository) Delete(ctx context.Context, uploadID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM upload_attempts WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("delete upload status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete upload status rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrUploadNotFound, "delete upload status", fmt.Errorf("upload %s", uploadID))
	}
	return nil
}
