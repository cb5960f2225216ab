package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
	"github.com/kirillkom/recovery-tracker/internal/core/progress"
)

const (
	encodeChunkSize = 48 * 1024
	sizeTolerance   = 1024

	progressValidated = 10
	progressEncodeEnd = 70
	progressChecksum  = 80
	progressAssemble  = 95
	progressPackaged  = 100
)

type PackageOptions struct {
	UserAgent           string
	ConfidenceThreshold float64
}

// PackageBuilder turns a validated file into a checksummed UploadPackage.
type PackageBuilder struct {
	validator *FileValidator
	opts      PackageOptions
	now       func() time.Time
	newID     func() string
}

func NewPackageBuilder(validator *FileValidator, opts PackageOptions) *PackageBuilder {
	if opts.UserAgent == "" {
		opts.UserAgent = "recovery-tracker-intake/1.0"
	}
	return &PackageBuilder{
		validator: validator,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Build validates file, encodes it and assembles the package, publishing
// packaging progress on stream. A rejected file yields a *domain.ValidationError.
func (b *PackageBuilder) Build(
	ctx context.Context,
	file ports.SourceFile,
	user domain.UserContext,
	stream *progress.Stream,
) (*domain.UploadPackage, error) {
	uploadID := stream.UploadID()
	if uploadID == "" {
		uploadID = b.newID()
	}

	publishPackaging(stream, domain.StageValidate, 0, "Validating file...")
	validation := b.validator.Validate(file)
	if !validation.IsValid {
		return nil, domain.NewValidationError(domain.ErrValidation, validation.Errors)
	}
	publishPackaging(stream, domain.StageEncode, progressValidated, "Converting file...")

	encoded, err := encodeBase64(ctx, file, func(read, total int64) {
		if total <= 0 {
			return
		}
		frac := float64(read) / float64(total)
		if frac > 1 {
			frac = 1
		}
		pct := progressValidated + frac*(progressEncodeEnd-progressValidated)
		publishPackaging(stream, domain.StageEncode, pct, "Converting file...")
	})
	if err != nil {
		return nil, err
	}

	publishPackaging(stream, domain.StageChecksum, progressChecksum, "Generating checksums...")
	fileChecksum := Checksum(encoded)
	metaChecksum, err := metadataChecksum(file)
	if err != nil {
		return nil, fmt.Errorf("metadata checksum: %w", err)
	}

	publishPackaging(stream, domain.StageAssemble, progressAssemble, "Creating package...")
	pkg := &domain.UploadPackage{
		UploadID:  uploadID,
		Timestamp: b.now().UTC(),
		Client: domain.ClientMetadata{
			FileName:  file.Name(),
			FileSize:  file.Size(),
			UserAgent: b.opts.UserAgent,
			Checksum:  metaChecksum,
		},
		UserContext: user,
		File: domain.FilePayload{
			Base64Content: encoded,
			MimeType:      file.MimeType(),
			Checksum:      fileChecksum,
		},
		Options: domain.ProcessingOptions{
			ExtractTasks:         true,
			GenerateTimeline:     true,
			IdentifyMedications:  true,
			ExtractEmergencyInfo: true,
			ConfidenceThreshold:  b.opts.ConfidenceThreshold,
		},
	}
	publishPackaging(stream, domain.StageAssemble, progressPackaged, "Package ready")

	slog.Info("upload_package_built",
		"upload_id", pkg.UploadID,
		"user_id", user.UserID,
		"file_size", pkg.Client.FileSize,
		"base64_size", len(encoded),
	)
	return pkg, nil
}

// Repackage returns a copy of prev with a fresh upload id and timestamp around
// the same file payload.
func (b *PackageBuilder) Repackage(prev *domain.UploadPackage) *domain.UploadPackage {
	next := *prev
	next.UploadID = b.newID()
	next.Timestamp = b.now().UTC()
	return &next
}

// ValidatePackage checks the package for structural completeness and payload
// integrity. It has no side effects.
func ValidatePackage(pkg *domain.UploadPackage) domain.PackageCheck {
	if pkg == nil {
		return domain.PackageCheck{IsValid: false, Errors: []string{"Missing package"}}
	}
	errs := make([]string, 0)
	if strings.TrimSpace(pkg.UploadID) == "" {
		errs = append(errs, "Missing upload ID")
	}
	if strings.TrimSpace(pkg.UserContext.UserID) == "" {
		errs = append(errs, "Missing user ID")
	}
	if pkg.File.Base64Content == "" {
		errs = append(errs, "Missing file content")
	}
	if pkg.File.Checksum == "" {
		errs = append(errs, "Missing file checksum")
	}

	decoded, err := base64.StdEncoding.DecodeString(pkg.File.Base64Content)
	if err != nil {
		errs = append(errs, "Invalid Base64 content")
	} else {
		diff := int64(len(decoded)) - pkg.Client.FileSize
		if diff < 0 {
			diff = -diff
		}
		if diff > sizeTolerance {
			errs = append(errs, "File size mismatch between metadata and content")
		}
	}
	if pkg.File.Checksum != "" && pkg.File.Base64Content != "" && Checksum(pkg.File.Base64Content) != pkg.File.Checksum {
		errs = append(errs, "File checksum mismatch")
	}

	return domain.PackageCheck{IsValid: len(errs) == 0, Errors: errs}
}

// Checksum is the lowercase hex SHA-256 of the UTF-8 bytes of s.
func Checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func metadataChecksum(file ports.SourceFile) (string, error) {
	meta := struct {
		FileName     string `json:"fileName"`
		FileSize     int64  `json:"fileSize"`
		LastModified int64  `json:"lastModified"`
	}{
		FileName:     file.Name(),
		FileSize:     file.Size(),
		LastModified: file.LastModified().UnixMilli(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return Checksum(string(raw)), nil
}

func encodeBase64(ctx context.Context, file ports.SourceFile, onRead func(read, total int64)) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer rc.Close()

	var out strings.Builder
	out.Grow(base64.StdEncoding.EncodedLen(int(max(file.Size(), 0))))
	enc := base64.NewEncoder(base64.StdEncoding, &out)

	buf := make([]byte, encodeChunkSize)
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, err := enc.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("encode file: %w", err)
			}
			read += int64(n)
			onRead(read, file.Size())
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("read file: %w", rerr)
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode file: %w", err)
	}
	return out.String(), nil
}

func publishPackaging(stream *progress.Stream, stage domain.Stage, pct float64, msg string) {
	stream.Publish(domain.UploadStatus{
		Status:   domain.UploadStatePackaging,
		Stage:    stage,
		Progress: pct,
		Message:  msg,
	})
}
