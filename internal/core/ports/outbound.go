package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/progress"
)

// SourceFile is a candidate upload as handed over by the caller.
type SourceFile interface {
	Name() string
	MimeType() string
	Size() int64
	LastModified() time.Time
	Open() (io.ReadCloser, error)
}

// Transfer sends packages to the extraction backend.
type Transfer interface {
	Upload(ctx context.Context, pkg *domain.UploadPackage, stream *progress.Stream) (*domain.UploadResponse, error)
	Cancel(uploadID string) bool
}

// StatusPoller drives periodic status checks for accepted uploads.
type StatusPoller interface {
	Start(uploadID string, onUpdate func(domain.UploadStatus))
	Stop(uploadID string)
	PollOnce(ctx context.Context, uploadID string) (domain.UploadStatus, error)
}

// ResponseCache keeps raw backend responses until they are normalized.
type ResponseCache interface {
	Put(ctx context.Context, uploadID string, raw []byte) error
	Get(ctx context.Context, uploadID string) ([]byte, bool, error)
	Delete(ctx context.Context, uploadID string) error
}

// Normalizer maps raw backend output into the canonical task model. Total.
type Normalizer interface {
	Normalize(raw []byte) domain.ProcessingResult
}

// StatusStore persists the latest status snapshot per upload attempt.
type StatusStore interface {
	Save(ctx context.Context, userID string, status domain.UploadStatus) error
	Get(ctx context.Context, uploadID string) (*domain.UploadStatus, error)
	Delete(ctx context.Context, uploadID string) error
}

// EventPublisher publishes/consumes extraction lifecycle events.
type EventPublisher interface {
	PublishExtractionCompleted(ctx context.Context, event domain.ExtractionCompleted) error
}

type EventSubscriber interface {
	SubscribeExtractionCompleted(ctx context.Context, handler func(context.Context, domain.ExtractionCompleted) error) error
}

// TaskStore persists care tasks produced by completed uploads.
type TaskStore interface {
	SaveTasks(ctx context.Context, userID, uploadID string, tasks []domain.CareTask) error
	ListTasks(ctx context.Context, userID string) ([]domain.CareTask, error)
	GetTask(ctx context.Context, userID, taskID string) (*domain.CareTask, error)
	UpdateTaskStatus(ctx context.Context, userID string, task *domain.CareTask) error
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ObjectStorage spools uploaded source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor returns the plain text of each PDF page.
type TextExtractor interface {
	ExtractPages(ctx context.Context, r io.ReaderAt, size int64) ([]string, error)
}

// JSONGenerator asks a language model for a JSON document.
type JSONGenerator interface {
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// InstructionExtractor finds timed do/don't instructions in page text.
type InstructionExtractor interface {
	ExtractTimeFrames(pages []string) []domain.TimeFrame
}

// Chunker splits long text into prompt-sized windows.
type Chunker interface {
	Split(text string) []string
}
