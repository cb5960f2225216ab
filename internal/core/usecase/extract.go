package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
)

const maxPromptChars = 12000

// ExtractDocumentUseCase is the extraction backend: it turns an uploaded
// discharge PDF into the JSON answer the intake pipeline polls for.
type ExtractDocumentUseCase struct {
	storage   ports.ObjectStorage
	text      ports.TextExtractor
	rules     ports.InstructionExtractor
	generator ports.JSONGenerator
	chunker   ports.Chunker
}

// NewExtractDocumentUseCase wires the backend. storage, generator and chunker
// are optional: without storage nothing is spooled, without a generator the
// rules answer every request, without a chunker each page is one prompt.
func NewExtractDocumentUseCase(
	storage ports.ObjectStorage,
	text ports.TextExtractor,
	rules ports.InstructionExtractor,
	generator ports.JSONGenerator,
	chunker ports.Chunker,
) *ExtractDocumentUseCase {
	return &ExtractDocumentUseCase{
		storage:   storage,
		text:      text,
		rules:     rules,
		generator: generator,
		chunker:   chunker,
	}
}

// ExtractRequest is one uploaded document. Checksum, when present, is the
// package checksum computed over the base64 form of Data.
type ExtractRequest struct {
	UploadID string
	Data     []byte
	Checksum string
}

func (uc *ExtractDocumentUseCase) Extract(ctx context.Context, req ExtractRequest) ([]byte, error) {
	if len(req.Data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract document", errors.New("empty upload"))
	}
	if req.Checksum != "" && Checksum(base64.StdEncoding.EncodeToString(req.Data)) != req.Checksum {
		return nil, domain.NewValidationError(domain.ErrPackageIntegrity, []string{"File checksum mismatch"})
	}
	uploadID := req.UploadID
	if err := uc.spool(ctx, uploadID, req.Data); err != nil {
		return nil, err
	}

	pages, err := uc.extractText(ctx, req.Data)
	if err != nil {
		return nil, err
	}

	if uc.generator != nil {
		out, err := uc.generate(ctx, pages)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("llm_extraction_failed", "upload_id", uploadID, "error", err)
	}
	return uc.applyRules(pages)
}

func (uc *ExtractDocumentUseCase) spool(ctx context.Context, uploadID string, data []byte) error {
	if uc.storage == nil {
		return nil
	}
	if err := uc.storage.Save(ctx, uploadID+".pdf", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("spool upload: %w", err)
	}
	return nil
}

func (uc *ExtractDocumentUseCase) extractText(ctx context.Context, data []byte) ([]string, error) {
	pages, err := uc.text.ExtractPages(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	for _, page := range pages {
		if strings.TrimSpace(page) != "" {
			return pages, nil
		}
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("document has no extractable text"))
}

func (uc *ExtractDocumentUseCase) applyRules(pages []string) ([]byte, error) {
	frames := uc.rules.ExtractTimeFrames(pages)
	out, err := json.Marshal(map[string]any{"time_frames": frames})
	if err != nil {
		return nil, fmt.Errorf("encode time frames: %w", err)
	}
	return out, nil
}

type completionPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type section struct {
	page int
	text string
}

// draft is the model answer for one section. Entries are kept raw so fields
// the pipeline understands survive untouched.
type draft struct {
	TimeFrames    []json.RawMessage `json:"time_frames"`
	Medications   []json.RawMessage `json:"medications"`
	EmergencyInfo json.RawMessage   `json:"emergency_info,omitempty"`
}

func (d *draft) merge(next draft, seen map[string]struct{}) {
	d.TimeFrames = appendUnique(d.TimeFrames, next.TimeFrames, seen)
	d.Medications = appendUnique(d.Medications, next.Medications, seen)
	if len(d.EmergencyInfo) == 0 && len(next.EmergencyInfo) > 0 && string(next.EmergencyInfo) != "null" {
		d.EmergencyInfo = next.EmergencyInfo
	}
}

func appendUnique(dst, src []json.RawMessage, seen map[string]struct{}) []json.RawMessage {
	for _, item := range src {
		key := string(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, item)
	}
	return dst
}

func (uc *ExtractDocumentUseCase) sections(pages []string) []section {
	var out []section
	for idx, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		if uc.chunker == nil {
			out = append(out, section{page: idx + 1, text: page})
			continue
		}
		for _, chunk := range uc.chunker.Split(page) {
			out = append(out, section{page: idx + 1, text: chunk})
		}
	}
	return out
}

func (uc *ExtractDocumentUseCase) generate(ctx context.Context, pages []string) ([]byte, error) {
	merged := draft{TimeFrames: []json.RawMessage{}, Medications: []json.RawMessage{}}
	seen := make(map[string]struct{})
	for _, sec := range uc.sections(pages) {
		text, err := uc.generator.GenerateJSONFromPrompt(ctx, buildExtractionPrompt(sec))
		if err != nil {
			return nil, fmt.Errorf("generate extraction for page %d: %w", sec.page, err)
		}
		var next draft
		if err := json.Unmarshal([]byte(text), &next); err != nil {
			return nil, domain.WrapError(domain.ErrNormalization, "generate extraction", fmt.Errorf("page %d: %w", sec.page, err))
		}
		merged.merge(next, seen)
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode extraction: %w", err)
	}
	envelope := map[string]any{
		"parsed": map[string]any{
			"content": []completionPart{{Type: "text", Text: string(body)}},
		},
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode completion: %w", err)
	}
	return out, nil
}

func buildExtractionPrompt(sec section) string {
	text := sec.text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	return fmt.Sprintf(`You extract patient care instructions from hospital discharge papers.
Return strict JSON object with keys:
time_frames (array of objects with time (number), unit (minutes|hours|days|weeks), message (string), type (0 for things to do, 1 for things not to do), task_type (medication|appointment|exercise|wound_care|diet|activity_restriction|monitoring|education|other), confidence (number from 0 to 1), page (number)),
medications (array of objects with name, dosage, frequency, duration, instructions),
emergency_info (object with warning_signs_title, warning_signs_description, warning_signs_list (array of strings)).
Use page %d for every time frame. No markdown, no extra keys.

Document:
%s
`, sec.page, text)
}
