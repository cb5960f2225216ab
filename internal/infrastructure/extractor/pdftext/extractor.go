package pdftext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

const operationExtract = "extract pdf text"

// Extractor reads the plain text of every page of a PDF document.
type Extractor struct {
	maxPages int
}

// New returns an extractor that stops after maxPages pages. A non-positive
// maxPages reads the whole document.
func New(maxPages int) *Extractor {
	return &Extractor{maxPages: maxPages}
}

func (e *Extractor) ExtractPages(ctx context.Context, r io.ReaderAt, size int64) (pages []string, err error) {
	if r == nil || size <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, operationExtract, errors.New("empty document"))
	}

	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = domain.WrapError(domain.ErrInvalidInput, operationExtract, fmt.Errorf("malformed pdf: %v", rec))
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, operationExtract, err)
	}

	total := reader.NumPage()
	if e.maxPages > 0 && total > e.maxPages {
		total = e.maxPages
	}
	pages = make([]string, 0, total)
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(num)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(pageFonts(page))
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, operationExtract, fmt.Errorf("page %d: %w", num, err))
		}
		pages = append(pages, collapseSpace(text))
	}
	return pages, nil
}

func pageFonts(page pdf.Page) map[string]*pdf.Font {
	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		font := page.Font(name)
		fonts[name] = &font
	}
	return fonts
}

func collapseSpace(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
