package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
	"github.com/kirillkom/recovery-tracker/internal/core/progress"
)

const (
	persistTimeout = 5 * time.Second
	// Failed and cancelled attempts keep their package this long for Retry.
	defaultRetention = 30 * time.Minute
	statusPathPrefix = "/v1/uploads/"
)

// IntakeMetrics receives attempt outcomes. A nil IntakeMetrics is allowed.
type IntakeMetrics interface {
	RecordUploadOutcome(state string)
	RecordTasksNormalized(count int)
}

type attempt struct {
	uploadID string
	userID   string
	pkg      *domain.UploadPackage
	stream   *progress.Stream
	ctx      context.Context
	cancel   context.CancelFunc
	// cancelled is set by Cancel before the stream is closed.
	cancelled bool
	expiry    *time.Timer

	// saved is only touched by the stream subscriber.
	saved struct {
		status domain.UploadState
		stage  domain.Stage
	}
}

// IntakeUseCase drives one upload attempt from file intake to a terminal
// status. Attempts are keyed by upload id and independent of each other.
type IntakeUseCase struct {
	builder   *PackageBuilder
	transfer  ports.Transfer
	poller    ports.StatusPoller
	cache     ports.ResponseCache
	statuses  ports.StatusStore
	events    ports.EventPublisher
	metrics   IntakeMetrics
	newID     func() string
	now       func() time.Time
	retention time.Duration

	mu       sync.Mutex
	attempts map[string]*attempt
	sending  sync.WaitGroup
}

func NewIntakeUseCase(
	builder *PackageBuilder,
	transfer ports.Transfer,
	poller ports.StatusPoller,
	cache ports.ResponseCache,
	statuses ports.StatusStore,
	events ports.EventPublisher,
	metrics IntakeMetrics,
) *IntakeUseCase {
	return &IntakeUseCase{
		builder:   builder,
		transfer:  transfer,
		poller:    poller,
		cache:     cache,
		statuses:  statuses,
		events:    events,
		metrics:   metrics,
		newID:     uuid.NewString,
		now:       time.Now,
		retention: defaultRetention,
		attempts:  make(map[string]*attempt),
	}
}

// Start validates and packages file, then hands the package to a background
// transfer and returns the acknowledgement. Transfer outcome, polling and the
// terminal status are reported through Status.
func (uc *IntakeUseCase) Start(ctx context.Context, file ports.SourceFile, user domain.UserContext) (*domain.UploadResponse, error) {
	if file == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start upload", errors.New("file is required"))
	}
	if user.UserID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start upload", errors.New("user id is required"))
	}

	a := uc.newAttempt(uc.newID(), user.UserID)
	slog.Info("upload_started", "upload_id", a.uploadID, "user_id", user.UserID, "file_name", file.Name())

	// The caller may abort while the file is read; after that the attempt
	// outlives the request.
	stop := context.AfterFunc(ctx, a.cancel)
	pkg, err := uc.builder.Build(a.ctx, file, user, a.stream)
	if !stop() {
		uc.abandon(a)
		return nil, domain.WrapError(domain.ErrCancelled, "start upload", context.Cause(ctx))
	}
	if err != nil {
		uc.fail(a, "File validation failed", err)
		return nil, err
	}
	if check := ValidatePackage(pkg); !check.IsValid {
		err := domain.NewValidationError(domain.ErrPackageIntegrity, check.Errors)
		uc.fail(a, "Package integrity check failed", err)
		return nil, err
	}

	uc.mu.Lock()
	a.pkg = pkg
	uc.mu.Unlock()

	uc.launch(a, pkg)
	return acknowledge(pkg), nil
}

// Shutdown waits for background transfers. When ctx ends first the remaining
// attempts are cancelled and Shutdown still waits for them to return.
func (uc *IntakeUseCase) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.sending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	uc.mu.Lock()
	for _, a := range uc.attempts {
		a.cancel()
	}
	uc.mu.Unlock()
	<-done
	return ctx.Err()
}

// Status returns the latest snapshot of an attempt.
func (uc *IntakeUseCase) Status(ctx context.Context, uploadID string) (*domain.UploadStatus, error) {
	uc.mu.Lock()
	a, ok := uc.attempts[uploadID]
	uc.mu.Unlock()
	if ok && !uc.wasCancelled(a) {
		if latest, ok := a.stream.Latest(); ok {
			return &latest, nil
		}
	}

	status, err := uc.statuses.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Cancel aborts the attempt and forgets its status. The package is kept so
// the attempt can still be retried.
func (uc *IntakeUseCase) Cancel(ctx context.Context, uploadID string) error {
	uc.mu.Lock()
	a, ok := uc.attempts[uploadID]
	if ok {
		a.cancelled = true
	}
	uc.mu.Unlock()
	if !ok {
		return domain.WrapError(domain.ErrUploadNotFound, "cancel upload", fmt.Errorf("upload %s", uploadID))
	}

	a.stream.Close()
	uc.transfer.Cancel(uploadID)
	a.cancel()
	uc.poller.Stop(uploadID)
	uc.retain(a)

	if err := uc.cache.Delete(ctx, uploadID); err != nil {
		slog.Warn("cancel_cache_cleanup_failed", "upload_id", uploadID, "error", err)
	}
	if err := uc.statuses.Delete(ctx, uploadID); err != nil && !domain.IsKind(err, domain.ErrUploadNotFound) {
		slog.Warn("cancel_status_cleanup_failed", "upload_id", uploadID, "error", err)
	}
	uc.recordOutcome("cancelled")
	slog.Info("upload_cancelled", "upload_id", uploadID)
	return nil
}

// Retry sends the retained package again under a fresh upload id.
func (uc *IntakeUseCase) Retry(ctx context.Context, uploadID string) (*domain.UploadResponse, error) {
	uc.mu.Lock()
	prev, ok := uc.attempts[uploadID]
	var retained *domain.UploadPackage
	if ok {
		retained = prev.pkg
	}
	uc.mu.Unlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrUploadNotFound, "retry upload", fmt.Errorf("upload %s", uploadID))
	}
	if retained == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retry upload", fmt.Errorf("upload %s has no package to resend", uploadID))
	}
	if latest, ok := prev.stream.Latest(); ok && !uc.wasCancelled(prev) && !latest.Status.IsTerminal() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retry upload", fmt.Errorf("upload %s is still %s", uploadID, latest.Status))
	}

	if !uc.claim(prev) {
		return nil, domain.WrapError(domain.ErrUploadNotFound, "retry upload", fmt.Errorf("upload %s was already retried", uploadID))
	}
	pkg := uc.builder.Repackage(retained)
	uc.poller.Stop(uploadID)

	a := uc.newAttempt(pkg.UploadID, prev.userID)
	uc.mu.Lock()
	a.pkg = pkg
	uc.mu.Unlock()

	slog.Info("upload_retried", "upload_id", a.uploadID, "previous_upload_id", uploadID)
	uc.launch(a, pkg)
	return acknowledge(pkg), nil
}

// Reset cancels the attempt and drops everything kept for it.
func (uc *IntakeUseCase) Reset(ctx context.Context, uploadID string) error {
	if err := uc.Cancel(ctx, uploadID); err != nil {
		return err
	}
	uc.forget(uploadID)
	return nil
}

func (uc *IntakeUseCase) launch(a *attempt, pkg *domain.UploadPackage) {
	a.stream.Publish(domain.UploadStatus{
		Status:  domain.UploadStateUploading,
		Stage:   domain.StageUpload,
		Message: "Uploading...",
	})
	uc.sending.Add(1)
	go func() {
		defer uc.sending.Done()
		uc.send(a, pkg)
	}()
}

func (uc *IntakeUseCase) send(a *attempt, pkg *domain.UploadPackage) {
	if _, err := uc.transfer.Upload(a.ctx, pkg, a.stream); err != nil {
		if uc.wasCancelled(a) || domain.IsKind(err, domain.ErrCancelled) {
			slog.Info("upload_aborted", "upload_id", a.uploadID)
			return
		}
		uc.fail(a, "Upload failed", err)
		return
	}
	if uc.wasCancelled(a) {
		return
	}
	uc.poller.Start(a.uploadID, func(status domain.UploadStatus) {
		uc.onPoll(a, status)
	})
}

func (uc *IntakeUseCase) onPoll(a *attempt, status domain.UploadStatus) {
	if !a.stream.Publish(status) {
		// Cancelled between upload and poller start.
		uc.poller.Stop(a.uploadID)
		return
	}
	switch status.Status {
	case domain.UploadStateCompleted:
		uc.complete(a, status)
	case domain.UploadStateFailed:
		uc.recordOutcome(string(domain.UploadStateFailed))
		uc.retain(a)
	}
}

// complete publishes the completion event and drops the attempt together with
// its package. Later Status calls are answered from the status store.
func (uc *IntakeUseCase) complete(a *attempt, status domain.UploadStatus) {
	uc.mu.Lock()
	pkg := a.pkg
	a.pkg = nil
	uc.mu.Unlock()
	uc.forget(a.uploadID)
	a.cancel()

	uc.recordOutcome(string(domain.UploadStateCompleted))
	if status.Result == nil {
		return
	}
	if uc.metrics != nil {
		uc.metrics.RecordTasksNormalized(len(status.Result.Tasks))
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := uc.cache.Delete(ctx, a.uploadID); err != nil {
		slog.Warn("response_cache_cleanup_failed", "upload_id", a.uploadID, "error", err)
	}
	if uc.events == nil {
		return
	}

	event := domain.ExtractionCompleted{
		UploadID:    a.uploadID,
		UserID:      a.userID,
		CompletedAt: uc.now().UTC(),
		Result:      *status.Result,
	}
	if pkg != nil {
		event.Procedure = pkg.UserContext.Procedure
	}
	if err := uc.events.PublishExtractionCompleted(ctx, event); err != nil {
		slog.Error("extraction_event_publish_failed", "upload_id", a.uploadID, "error", err)
	}
}

func (uc *IntakeUseCase) fail(a *attempt, message string, err error) {
	a.stream.Publish(domain.UploadStatus{
		Status:  domain.UploadStateFailed,
		Stage:   domain.StageFailed,
		Message: message,
		Error:   err.Error(),
	})
	uc.recordOutcome(string(domain.UploadStateFailed))
	uc.retain(a)
	slog.Warn("upload_failed", "upload_id", a.uploadID, "message", message, "error", err)
}

func (uc *IntakeUseCase) newAttempt(uploadID, userID string) *attempt {
	actx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		uploadID: uploadID,
		userID:   userID,
		stream:   progress.NewStream(uploadID),
		ctx:      actx,
		cancel:   cancel,
	}
	a.stream.Subscribe(func(status domain.UploadStatus) {
		uc.persist(a, status)
	})

	uc.mu.Lock()
	uc.attempts[uploadID] = a
	uc.mu.Unlock()
	return a
}

// persist stores the first snapshot of every state and stage. Progress
// inside a stage is served from the in-memory stream.
func (uc *IntakeUseCase) persist(a *attempt, status domain.UploadStatus) {
	if status.Status == a.saved.status && status.Stage == a.saved.stage && !status.Status.IsTerminal() {
		return
	}
	a.saved.status, a.saved.stage = status.Status, status.Stage

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := uc.statuses.Save(ctx, a.userID, status); err != nil {
		slog.Warn("upload_status_persist_failed", "upload_id", a.uploadID, "status", status.Status, "error", err)
	}
}

// retain keeps a finished attempt for Retry until the retention window ends.
func (uc *IntakeUseCase) retain(a *attempt) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.attempts[a.uploadID] != a {
		return
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}
	a.expiry = time.AfterFunc(uc.retention, func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if uc.attempts[a.uploadID] == a {
			delete(uc.attempts, a.uploadID)
			a.pkg = nil
			a.cancel()
		}
	})
}

// abandon drops an attempt whose caller went away before it was acknowledged.
func (uc *IntakeUseCase) abandon(a *attempt) {
	a.stream.Close()
	a.cancel()
	uc.forget(a.uploadID)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := uc.statuses.Delete(ctx, a.uploadID); err != nil && !domain.IsKind(err, domain.ErrUploadNotFound) {
		slog.Warn("abandoned_status_cleanup_failed", "upload_id", a.uploadID, "error", err)
	}
	slog.Info("upload_abandoned", "upload_id", a.uploadID)
}

// claim removes a from the attempt set unless someone else already did.
func (uc *IntakeUseCase) claim(a *attempt) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.attempts[a.uploadID] != a {
		return false
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}
	delete(uc.attempts, a.uploadID)
	return true
}

func (uc *IntakeUseCase) forget(uploadID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if a, ok := uc.attempts[uploadID]; ok {
		if a.expiry != nil {
			a.expiry.Stop()
		}
		delete(uc.attempts, uploadID)
	}
}

func (uc *IntakeUseCase) wasCancelled(a *attempt) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return a.cancelled
}

func (uc *IntakeUseCase) recordOutcome(state string) {
	if uc.metrics != nil {
		uc.metrics.RecordUploadOutcome(state)
	}
}

func acknowledge(pkg *domain.UploadPackage) *domain.UploadResponse {
	return &domain.UploadResponse{
		Success:       true,
		UploadID:      pkg.UploadID,
		Status:        domain.UploadStateUploading,
		EstimatedTime: domain.FormatEstimate(pkg.Client.FileSize),
		StatusURL:     statusPathPrefix + pkg.UploadID,
	}
}
