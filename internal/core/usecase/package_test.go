package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/progress"
)

func newTestBuilder() *PackageBuilder {
	b := NewPackageBuilder(newTestValidator(), PackageOptions{ConfidenceThreshold: 0.7})
	b.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	ids := 0
	b.newID = func() string {
		ids++
		return "pkg-" + string(rune('0'+ids))
	}
	return b
}

func testUser() domain.UserContext {
	return domain.UserContext{
		UserID:        "user-1",
		Procedure:     "knee arthroscopy",
		DischargeDate: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Timezone:      "UTC",
	}
}

func TestBuildProducesVerifiablePackage(t *testing.T) {
	data := pdfBytes(200 * 1024)
	file := NewBytesFile("discharge.pdf", "application/pdf", data, time.Unix(1700000000, 0))
	stream := progress.NewStream("up-1")

	var events []domain.UploadStatus
	stream.Subscribe(func(s domain.UploadStatus) { events = append(events, s) })

	pkg, err := newTestBuilder().Build(context.Background(), file, testUser(), stream)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pkg.UploadID != "up-1" {
		t.Fatalf("expected stream upload id, got %q", pkg.UploadID)
	}

	decoded, err := base64.StdEncoding.DecodeString(pkg.File.Base64Content)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("decoded payload differs from the source bytes")
	}
	if Checksum(pkg.File.Base64Content) != pkg.File.Checksum {
		t.Fatalf("stored checksum does not match recomputation")
	}
	if len(pkg.File.Checksum) != 64 || pkg.Client.Checksum == "" {
		t.Fatalf("unexpected checksums: file=%q meta=%q", pkg.File.Checksum, pkg.Client.Checksum)
	}
	if !pkg.Options.ExtractTasks || pkg.Options.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected processing options: %+v", pkg.Options)
	}

	if len(events) < 5 {
		t.Fatalf("expected stage events, got %d", len(events))
	}
	last := -1.0
	for _, ev := range events {
		if ev.Status != domain.UploadStatePackaging {
			t.Fatalf("unexpected state %q", ev.Status)
		}
		if ev.Progress < last {
			t.Fatalf("progress decreased: %v after %v", ev.Progress, last)
		}
		if ev.Stage == domain.StageEncode && (ev.Progress < 10 || ev.Progress > 70) {
			t.Fatalf("encode progress outside its band: %v", ev.Progress)
		}
		last = ev.Progress
	}
	if events[len(events)-1].Progress != 100 {
		t.Fatalf("expected final packaging progress 100, got %v", last)
	}
}

func TestBuildRejectsInvalidFile(t *testing.T) {
	file := NewBytesFile("discharge.png", "image/png", []byte("\x89PNG"), time.Now())

	_, err := newTestBuilder().Build(context.Background(), file, testUser(), progress.NewStream("up-2"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || len(vErr.Errors) != 3 {
		t.Fatalf("expected three validation reasons, got %v", err)
	}
}

func TestBuildHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	file := NewBytesFile("discharge.pdf", "application/pdf", pdfBytes(1024), time.Now())

	_, err := newTestBuilder().Build(ctx, file, testUser(), progress.NewStream("up-3"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestRepackageKeepsPayload(t *testing.T) {
	b := newTestBuilder()
	file := NewBytesFile("discharge.pdf", "application/pdf", pdfBytes(4096), time.Now())
	pkg, err := b.Build(context.Background(), file, testUser(), progress.NewStream("up-4"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.now = func() time.Time { return time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC) }

	next := b.Repackage(pkg)
	if next.UploadID == pkg.UploadID {
		t.Fatalf("expected a fresh upload id")
	}
	if !next.Timestamp.After(pkg.Timestamp) {
		t.Fatalf("expected a fresh timestamp")
	}
	if next.File != pkg.File {
		t.Fatalf("expected the same file payload")
	}
}

func TestValidatePackageAcceptsBuiltPackage(t *testing.T) {
	file := NewBytesFile("discharge.pdf", "application/pdf", pdfBytes(3000), time.Now())
	pkg, err := newTestBuilder().Build(context.Background(), file, testUser(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	first := ValidatePackage(pkg)
	second := ValidatePackage(pkg)
	if !first.IsValid {
		t.Fatalf("expected built package to be valid, got %v", first.Errors)
	}
	if first.IsValid != second.IsValid || len(first.Errors) != len(second.Errors) {
		t.Fatalf("expected idempotent validation")
	}
}

func TestValidatePackageFlagsProblems(t *testing.T) {
	pkg := &domain.UploadPackage{
		Client: domain.ClientMetadata{FileSize: 10_000},
		File:   domain.FilePayload{Base64Content: "not base64!!"},
	}

	check := ValidatePackage(pkg)
	if check.IsValid {
		t.Fatalf("expected invalid package")
	}
	expected := []string{"Missing upload ID", "Missing user ID", "Missing file checksum", "Invalid Base64 content"}
	if len(check.Errors) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, check.Errors)
	}
	for i, want := range expected {
		if check.Errors[i] != want {
			t.Fatalf("error %d: expected %q, got %q", i, want, check.Errors[i])
		}
	}
}

func TestValidatePackageDetectsTruncationAndTampering(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(pdfBytes(1000))
	pkg := &domain.UploadPackage{
		UploadID:    "up-5",
		UserContext: domain.UserContext{UserID: "user-1"},
		Client:      domain.ClientMetadata{FileSize: 5000},
		File:        domain.FilePayload{Base64Content: payload, Checksum: Checksum(payload)},
	}

	check := ValidatePackage(pkg)
	if check.IsValid || len(check.Errors) != 1 || check.Errors[0] != "File size mismatch between metadata and content" {
		t.Fatalf("expected size mismatch only, got %v", check.Errors)
	}

	pkg.Client.FileSize = 1000
	pkg.File.Checksum = Checksum("something else")
	check = ValidatePackage(pkg)
	if check.IsValid || len(check.Errors) != 1 || check.Errors[0] != "File checksum mismatch" {
		t.Fatalf("expected checksum mismatch only, got %v", check.Errors)
	}
}
