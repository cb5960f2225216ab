package usecase

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
)

const (
	pdfMagic        = "%PDF-"
	headerProbeSize = 1024
)

type ValidatorOptions struct {
	MaxFileSize      int64
	LargeFileWarning int64
	AllowedMimeTypes []string
}

// FileValidator checks candidate uploads before any network use.
type FileValidator struct {
	opts ValidatorOptions
}

func NewFileValidator(opts ValidatorOptions) *FileValidator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 * 1024 * 1024
	}
	if opts.LargeFileWarning <= 0 {
		opts.LargeFileWarning = 5 * 1024 * 1024
	}
	if len(opts.AllowedMimeTypes) == 0 {
		opts.AllowedMimeTypes = []string{"application/pdf"}
	}
	return &FileValidator{opts: opts}
}

// Validate runs every check and collects all failures. It only reads a bounded
// prefix of the file.
func (v *FileValidator) Validate(file ports.SourceFile) domain.ValidationResult {
	errs := make([]string, 0)
	warnings := make([]string, 0)

	if !v.mimeAllowed(file.MimeType()) {
		errs = append(errs, fmt.Sprintf("Invalid file type. Expected PDF, got %s", file.MimeType()))
	}
	if !strings.HasSuffix(strings.ToLower(file.Name()), ".pdf") {
		errs = append(errs, "File must have .pdf extension")
	}

	size := file.Size()
	if size > v.opts.MaxFileSize {
		errs = append(errs, fmt.Sprintf("File too large. Maximum size is %s, got %s",
			formatFileSize(v.opts.MaxFileSize), formatFileSize(size)))
	}
	if size <= 0 {
		errs = append(errs, "File is empty")
	}
	if size > v.opts.LargeFileWarning {
		warnings = append(warnings, "Large file may take longer to process")
	}

	header, err := readHeader(file)
	switch {
	case err != nil:
		errs = append(errs, "Unable to read file header")
		slog.Warn("file_header_read_failed", "file_name", file.Name(), "error", err)
	case !bytes.HasPrefix(header, []byte(pdfMagic)):
		errs = append(errs, "File appears to be corrupted or not a valid PDF")
	}

	result := domain.ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
		FileInfo: domain.FileInfo{
			Name:         file.Name(),
			Size:         size,
			Type:         file.MimeType(),
			LastModified: file.LastModified(),
		},
	}
	slog.Info("file_validated",
		"file_name", file.Name(),
		"is_valid", result.IsValid,
		"error_count", len(errs),
		"warning_count", len(warnings),
	)
	return result
}

func (v *FileValidator) mimeAllowed(mimeType string) bool {
	for _, allowed := range v.opts.AllowedMimeTypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func readHeader(file ports.SourceFile) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, headerProbeSize)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

func formatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	value := float64(n) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', -1, 64) + " " + units[i]
}
