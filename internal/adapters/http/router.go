package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/config"
	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
)

const (
	uploadFormField   = "file"
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
)

// TaskService is the care-task surface exposed next to the upload API.
type TaskService interface {
	ListTasks(ctx context.Context, userID string) ([]domain.CareTask, error)
	UpdateStatus(ctx context.Context, userID, taskID string, to domain.TaskStatus) (*domain.CareTask, error)
}

// Metrics is satisfied by metrics.HTTPServerMetrics. A nil Metrics disables
// request metrics and the /metrics endpoint.
type Metrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordRejected(service, reason string)
}

type Router struct {
	cfg     config.Config
	intake  ports.UploadIntake
	tasks   TaskService
	metrics Metrics
}

func NewRouter(cfg config.Config, intake ports.UploadIntake, tasks TaskService, metrics Metrics) *Router {
	return &Router{
		cfg:     cfg,
		intake:  intake,
		tasks:   tasks,
		metrics: metrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/uploads", rt.startUpload)
	mux.HandleFunc("GET /v1/uploads/{id}", rt.uploadStatus)
	mux.HandleFunc("DELETE /v1/uploads/{id}", rt.cancelUpload)
	mux.HandleFunc("POST /v1/uploads/{id}/retry", rt.retryUpload)
	mux.HandleFunc("POST /v1/uploads/{id}/reset", rt.resetUpload)
	mux.HandleFunc("GET /v1/tasks", rt.listTasks)
	mux.HandleFunc("POST /v1/tasks/{id}/status", rt.updateTaskStatus)

	var onReject func(string)
	if rt.metrics != nil {
		onReject = func(reason string) { rt.metrics.RecordRejected("api", reason) }
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueTimeout, onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) startUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*rt.cfg.Pipeline.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart form is required"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}

	user, err := userContextFromForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	file, err := newFormFile(headers[0], r.FormValue("last_modified"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := rt.intake.Start(r.Context(), file, user)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) uploadStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.intake.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) cancelUpload(w http.ResponseWriter, r *http.Request) {
	if err := rt.intake.Cancel(r.Context(), r.PathValue("id")); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) retryUpload(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.intake.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) resetUpload(w http.ResponseWriter, r *http.Request) {
	if err := rt.intake.Reset(r.Context(), r.PathValue("id")); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listTasks(w http.ResponseWriter, r *http.Request) {
	if rt.tasks == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "task store is not configured"})
		return
	}
	tasks, err := rt.tasks.ListTasks(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (rt *Router) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	if rt.tasks == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "task store is not configured"})
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Status) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id and status are required"})
		return
	}

	task, err := rt.tasks.UpdateStatus(r.Context(), req.UserID, r.PathValue("id"), domain.TaskStatus(req.Status))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, err error) {
	if mapErrorToHTTPStatus(err) == http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, r, err)
}

func userContextFromForm(r *http.Request) (domain.UserContext, error) {
	user := domain.UserContext{
		UserID:    strings.TrimSpace(r.FormValue("user_id")),
		Name:      strings.TrimSpace(r.FormValue("name")),
		Procedure: strings.TrimSpace(r.FormValue("procedure")),
		Timezone:  strings.TrimSpace(r.FormValue("timezone")),
	}
	if user.UserID == "" {
		return domain.UserContext{}, domain.WrapError(domain.ErrInvalidInput, "parse upload form", errors.New("user_id is required"))
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(user.Timezone); err != nil {
		return domain.UserContext{}, domain.WrapError(domain.ErrInvalidInput, "parse upload form", fmt.Errorf("unknown timezone %q", user.Timezone))
	}

	user.DischargeDate = time.Now().UTC()
	if raw := strings.TrimSpace(r.FormValue("discharge_date")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.UserContext{}, domain.WrapError(domain.ErrInvalidInput, "parse upload form", fmt.Errorf("discharge_date must be RFC3339: %w", err))
		}
		user.DischargeDate = at.UTC()
	}
	return user, nil
}

// formFile exposes a multipart file part as a SourceFile.
type formFile struct {
	header   *multipart.FileHeader
	modified time.Time
}

func newFormFile(header *multipart.FileHeader, lastModified string) (*formFile, error) {
	modified := time.Now().UTC()
	if lastModified = strings.TrimSpace(lastModified); lastModified != "" {
		ms, err := strconv.ParseInt(lastModified, 10, 64)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse upload form", fmt.Errorf("last_modified must be unix milliseconds: %w", err))
		}
		modified = time.UnixMilli(ms).UTC()
	}
	return &formFile{header: header, modified: modified}, nil
}

func (f *formFile) Name() string            { return f.header.Filename }
func (f *formFile) MimeType() string        { return f.header.Header.Get("Content-Type") }
func (f *formFile) Size() int64             { return f.header.Size }
func (f *formFile) LastModified() time.Time { return f.modified }

func (f *formFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
