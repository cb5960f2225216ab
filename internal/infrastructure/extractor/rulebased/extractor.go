package rulebased

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

const ruleConfidence = 0.75

var (
	sentenceBoundary = regexp.MustCompile(`[.!?;]+\s+|\n+`)
	timeframePattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(minute|hour|day|week|month)s?\b`)
	doNotPattern     = regexp.MustCompile(`(?i)\b(do not|don't|dont|avoid|never|refrain from|should not|must not|no)\b`)
	doPattern        = regexp.MustCompile(`(?i)\b(take|walk|apply|change|keep|drink|eat|call|schedule|shower|clean|resume|return|wear|check|continue|start|use|rest|elevate)\b`)
)

type keywordRule struct {
	taskType domain.TaskType
	words    []string
}

// Checked in order; the first hit wins.
var taskTypeRules = []keywordRule{
	{domain.TaskTypeWoundCare, []string{"wound", "dressing", "incision", "stitches", "bandage", "drain"}},
	{domain.TaskTypeAppointment, []string{"appointment", "follow-up", "follow up", "visit", "schedule"}},
	{domain.TaskTypeMedication, []string{"mg", "tablet", "pill", "dose", "antibiotic", "medication", "medicine", "take"}},
	{domain.TaskTypeExercise, []string{"walk", "exercise", "stretch", "physical therapy"}},
	{domain.TaskTypeDiet, []string{"eat", "drink", "diet", "food", "fluids", "meal"}},
	{domain.TaskTypeMonitoring, []string{"temperature", "monitor", "check", "measure", "weigh"}},
}

// Extractor turns sentences that carry both an instruction verb and an
// "N unit" time frame into time frames.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ExtractTimeFrames(pages []string) []domain.TimeFrame {
	frames := []domain.TimeFrame{}
	for idx, page := range pages {
		for _, sentence := range sentences(page) {
			frame, ok := parseSentence(sentence)
			if !ok {
				continue
			}
			frame.Page = idx + 1
			frames = append(frames, frame)
		}
	}
	return frames
}

func sentences(page string) []string {
	parts := sentenceBoundary.Split(page, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), ".!?;")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseSentence(sentence string) (domain.TimeFrame, bool) {
	match := timeframePattern.FindStringSubmatch(sentence)
	if match == nil {
		return domain.TimeFrame{}, false
	}
	restricted := doNotPattern.MatchString(sentence)
	if !restricted && !doPattern.MatchString(sentence) {
		return domain.TimeFrame{}, false
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil || value <= 0 {
		return domain.TimeFrame{}, false
	}
	unit := strings.ToLower(match[2])
	if unit == "month" {
		value *= 4
		unit = "week"
	}

	frame := domain.TimeFrame{
		Time:       value,
		Unit:       unit + "s",
		Message:    sentence,
		Confidence: ruleConfidence,
	}
	if restricted {
		frame.Type = 1
	} else {
		frame.TaskType = string(classify(sentence))
	}
	return frame, true
}

func classify(sentence string) domain.TaskType {
	lower := strings.ToLower(sentence)
	for _, rule := range taskTypeRules {
		for _, word := range rule.words {
			if containsWord(lower, word) {
				return rule.taskType
			}
		}
	}
	return domain.TaskTypeOther
}

func containsWord(text, word string) bool {
	for start := 0; ; {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		if (idx == 0 || !isLetter(text[idx-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		start = idx + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
