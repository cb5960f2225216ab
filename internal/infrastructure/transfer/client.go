package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
	"github.com/kirillkom/recovery-tracker/internal/core/progress"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/resilience"
)

const (
	uploadPath       = "/api/upload"
	maxResponseBytes = 8 << 20
	operationUpload  = "extraction_upload"
)

// Metrics receives transfer outcomes. A nil Metrics is allowed.
type Metrics interface {
	RecordTransferAttempt(outcome string)
	RecordTransferRetry()
}

type Options struct {
	BaseURL        string
	FieldName      string
	StatusPath     string
	UserAgent      string
	RequestTimeout time.Duration
}

type flight struct {
	cancel context.CancelCauseFunc
	stream *progress.Stream
}

// Client uploads packages to the extraction backend with bounded retries.
type Client struct {
	baseURL    string
	fieldName  string
	statusPath string
	userAgent  string
	httpClient *http.Client
	executor   *resilience.Executor
	cache      ports.ResponseCache
	metrics    Metrics

	mu       sync.Mutex
	inflight map[string]flight
}

func New(opts Options, executor *resilience.Executor, cache ports.ResponseCache, metrics Metrics) *Client {
	if opts.FieldName == "" {
		opts.FieldName = "pdf_file"
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "/v1/uploads/"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		fieldName:  opts.FieldName,
		statusPath: opts.StatusPath,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		executor:   executor,
		cache:      cache,
		metrics:    metrics,
		inflight:   make(map[string]flight),
	}
}

// Upload posts the package, retrying transfer failures with backoff. The raw
// backend answer is cached under the upload id and an acknowledgement is
// returned. Cancel aborts the call and suppresses further retries and progress.
func (c *Client) Upload(ctx context.Context, pkg *domain.UploadPackage, stream *progress.Stream) (*domain.UploadResponse, error) {
	if pkg == nil || strings.TrimSpace(pkg.UploadID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("package without upload id"))
	}
	data, err := base64.StdEncoding.DecodeString(pkg.File.Base64Content)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPackageIntegrity, "upload", fmt.Errorf("decode payload: %w", err))
	}
	body, contentType, err := c.buildMultipart(pkg, data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPackageIntegrity, "upload", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	if err := c.register(pkg.UploadID, cancel, stream); err != nil {
		cancel(nil)
		return nil, err
	}
	defer func() {
		c.unregister(pkg.UploadID)
		cancel(nil)
	}()

	publish := func(stage domain.Stage, pct float64, msg string) {
		if ctx.Err() != nil {
			return
		}
		stream.Publish(domain.UploadStatus{
			Status:   domain.UploadStateUploading,
			Stage:    stage,
			Progress: pct,
			Message:  msg,
		})
	}

	var raw []byte
	err = c.executor.ExecuteAttempts(ctx, operationUpload, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			publish(domain.StageUpload, 0, "Uploading...")
		} else {
			publish(domain.StageRetry, float64(min((attempt-1)*10, 30)), fmt.Sprintf("Retry attempt %d...", attempt))
		}
		publish(domain.StageUpload, 30, "Uploading to server...")

		out, err := c.post(ctx, pkg, body, contentType)
		if err != nil {
			c.recordAttempt(attemptOutcome(ctx, err))
			return err
		}
		c.recordAttempt("success")
		raw = out
		return nil
	}, classifyTransferError, func(attempt int, wait time.Duration, err error) {
		if c.metrics != nil {
			c.metrics.RecordTransferRetry()
		}
		secs := int((wait + time.Second - 1) / time.Second)
		publish(domain.StageRetry, float64(attempt*10), fmt.Sprintf("Retrying in %d seconds...", secs))
	})
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, domain.ErrCancelled) {
			slog.Info("upload_cancelled", "upload_id", pkg.UploadID)
			return nil, domain.WrapError(domain.ErrCancelled, "upload", cause)
		}
		slog.Error("upload_failed", "upload_id", pkg.UploadID, "error", err)
		return nil, domain.WrapError(domain.ErrTransfer, "upload", err)
	}

	publish(domain.StageUpload, 70, "Processing response...")
	if c.cache != nil {
		if err := c.cache.Put(ctx, pkg.UploadID, raw); err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "cache backend response", err)
		}
	}
	publish(domain.StageUpload, 100, "Upload complete, processing...")

	slog.Info("upload_accepted", "upload_id", pkg.UploadID, "response_bytes", len(raw))
	return &domain.UploadResponse{
		Success:       true,
		UploadID:      pkg.UploadID,
		Status:        domain.UploadStateProcessing,
		EstimatedTime: domain.FormatEstimate(pkg.Client.FileSize),
		StatusURL:     c.statusPath + pkg.UploadID,
	}, nil
}

// Cancel aborts the in-flight upload for uploadID. It reports whether an
// upload was running.
func (c *Client) Cancel(uploadID string) bool {
	c.mu.Lock()
	f, ok := c.inflight[uploadID]
	delete(c.inflight, uploadID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	f.stream.Close()
	f.cancel(domain.ErrCancelled)
	return true
}

func (c *Client) register(uploadID string, cancel context.CancelCauseFunc, stream *progress.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inflight[uploadID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("upload %s already in flight", uploadID))
	}
	c.inflight[uploadID] = flight{cancel: cancel, stream: stream}
	return nil
}

func (c *Client) unregister(uploadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, uploadID)
}

func (c *Client) post(ctx context.Context, pkg *domain.UploadPackage, body []byte, contentType string) ([]byte, error) {
	url := c.baseURL + uploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Upload-ID", pkg.UploadID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &resilience.ConnectivityError{Target: target, URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &resilience.HTTPStatusError{
			Target:     target,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	return raw, nil
}

func (c *Client) buildMultipart(pkg *domain.UploadPackage, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := pkg.File.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(c.fieldName), escapeQuotes(pkg.Client.FileName)))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	fields := [][2]string{
		{"upload_id", pkg.UploadID},
		{"user_id", pkg.UserContext.UserID},
		{"procedure", pkg.UserContext.Procedure},
		{"checksum", pkg.File.Checksum},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) recordAttempt(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordTransferAttempt(outcome)
	}
}

func attemptOutcome(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		return "http_error"
	}
	var connErr *resilience.ConnectivityError
	if errors.As(err, &connErr) {
		return "unreachable"
	}
	return "error"
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
