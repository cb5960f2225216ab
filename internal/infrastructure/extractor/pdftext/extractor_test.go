package pdftext

import (
	"bytes"
	"context"
	"testing"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

func TestExtractPagesRejectsEmptyDocument(t *testing.T) {
	_, err := New(0).ExtractPages(context.Background(), bytes.NewReader(nil), 0)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestExtractPagesRejectsNonPDF(t *testing.T) {
	raw := []byte("this is a plain text file, not a pdf document at all")
	pages, err := New(0).ExtractPages(context.Background(), bytes.NewReader(raw), int64(len(raw)))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if pages != nil {
		t.Fatalf("expected no pages, got %v", pages)
	}
}

func TestCollapseSpace(t *testing.T) {
	got := collapseSpace("  Take   meds \n\n   twice daily  \n")
	if got != "Take meds\ntwice daily" {
		t.Fatalf("unexpected text: %q", got)
	}
}
