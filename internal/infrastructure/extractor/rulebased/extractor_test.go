package rulebased

import (
	"testing"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

func TestExtractTimeFrames(t *testing.T) {
	pages := []string{
		"Take amoxicillin 500mg twice daily for 7 days. Do not lift anything heavier than 10 pounds for 2 weeks.",
		"Walk 10 minutes every morning.\nCall your doctor if you have a fever.",
	}

	frames := New().ExtractTimeFrames(pages)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}

	first := frames[0]
	if first.Time != 7 || first.Unit != "days" || first.Type != 0 || first.TaskType != string(domain.TaskTypeMedication) || first.Page != 1 {
		t.Fatalf("unexpected medication frame: %+v", first)
	}
	second := frames[1]
	if second.Time != 2 || second.Unit != "weeks" || second.Type != 1 || second.TaskType != "" || second.Page != 1 {
		t.Fatalf("unexpected restriction frame: %+v", second)
	}
	if second.Message != "Do not lift anything heavier than 10 pounds for 2 weeks" {
		t.Fatalf("unexpected message: %q", second.Message)
	}
	third := frames[2]
	if third.Time != 10 || third.Unit != "minutes" || third.TaskType != string(domain.TaskTypeExercise) || third.Page != 2 {
		t.Fatalf("unexpected exercise frame: %+v", third)
	}
}

func TestExtractTimeFramesConvertsMonthsAndSkipsUntimed(t *testing.T) {
	frames := New().ExtractTimeFrames([]string{"Avoid driving for 1 month. Keep the incision dry."})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %+v", frames)
	}
	if frames[0].Time != 4 || frames[0].Unit != "weeks" || frames[0].Type != 1 {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestExtractTimeFramesEmpty(t *testing.T) {
	frames := New().ExtractTimeFrames(nil)
	if frames == nil || len(frames) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", frames)
	}
}

func TestClassifyMatchesWholeWords(t *testing.T) {
	if got := classify("Change the dressing every 2 days"); got != domain.TaskTypeWoundCare {
		t.Fatalf("expected wound_care, got %s", got)
	}
	if got := classify("Resume normal activities after 3 weeks"); got != domain.TaskTypeOther {
		t.Fatalf("expected other, got %s", got)
	}
}
