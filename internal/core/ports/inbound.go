package ports

import (
	"context"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

// UploadIntake is the inbound contract for the discharge-PDF upload lifecycle.
type UploadIntake interface {
	Start(ctx context.Context, file SourceFile, user domain.UserContext) (*domain.UploadResponse, error)
	Status(ctx context.Context, uploadID string) (*domain.UploadStatus, error)
	Cancel(ctx context.Context, uploadID string) error
	Retry(ctx context.Context, uploadID string) (*domain.UploadResponse, error)
	Reset(ctx context.Context, uploadID string) error
}

// ExtractionConsumer merges completed extraction results into the task store.
type ExtractionConsumer interface {
	HandleExtractionCompleted(ctx context.Context, event domain.ExtractionCompleted) error
}
