package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/recovery-tracker/internal/core/usecase"
)

// DocumentExtractor is the extraction backend behind POST /api/upload.
type DocumentExtractor interface {
	Extract(ctx context.Context, req usecase.ExtractRequest) ([]byte, error)
}

// ExtractorRouter serves the reference extraction backend.
type ExtractorRouter struct {
	fieldName string
	maxBytes  int64
	extractor DocumentExtractor
	metrics   Metrics
}

func NewExtractorRouter(fieldName string, maxBytes int64, extractor DocumentExtractor, metrics Metrics) *ExtractorRouter {
	if strings.TrimSpace(fieldName) == "" {
		fieldName = "pdf_file"
	}
	return &ExtractorRouter{
		fieldName: fieldName,
		maxBytes:  maxBytes,
		extractor: extractor,
		metrics:   metrics,
	}
}

func (rt *ExtractorRouter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /api/upload", rt.upload)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("extractor", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *ExtractorRouter) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxBytes+multipartOverhead)
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

	file, header, err := r.FormFile(rt.fieldName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("multipart field '%s' is required", rt.fieldName)})
		return
	}
	defer file.Close()
	if header.Size > rt.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read uploaded file"})
		return
	}

	uploadID := strings.TrimSpace(r.Header.Get("X-Upload-ID"))
	if uploadID == "" {
		uploadID = strings.TrimSpace(r.FormValue("upload_id"))
	}
	if _, err := uuid.Parse(uploadID); err != nil {
		uploadID = uuid.NewString()
	}

	out, err := rt.extractor.Extract(r.Context(), usecase.ExtractRequest{
		UploadID: uploadID,
		Data:     data,
		Checksum: strings.TrimSpace(r.FormValue("checksum")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Upload-ID", uploadID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
