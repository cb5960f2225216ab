// Package extraction maps raw extraction-backend responses onto care tasks.
package extraction

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

const (
	sourcePDFExtraction = "pdf_extraction"
	// Assigned when the backend gives no per-item confidence.
	placeholderConfidence = 0.8
	defaultTaskMinutes    = 15
	defaultPageNumber     = 1
	restrictionSeverity   = "moderate"
	restrictionImpact     = "May interfere with recovery process"
)

type Options struct {
	ConfidenceThreshold float64
}

// Normalizer is total: every input yields a ProcessingResult.
type Normalizer struct {
	threshold float64
	now       func() time.Time
	newID     func() string
}

func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{
		threshold: opts.ConfidenceThreshold,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// mapped pairs a task with the duration text its restriction view shows.
type mapped struct {
	task     domain.CareTask
	duration string
}

func (n *Normalizer) Normalize(raw []byte) domain.ProcessingResult {
	started := n.now()

	doc, shape, err := decode(raw)
	if err != nil {
		slog.Warn("normalization_degraded",
			"shape", shape.String(),
			"error", domain.WrapError(domain.ErrNormalization, "normalize", err),
		)
		return domain.ProcessingResult{
			Tasks:          []domain.CareTask{},
			EmergencyInfo:  defaultEmergencyInfo(),
			Medications:    []domain.Medication{},
			Restrictions:   []domain.Restriction{},
			Confidence:     0,
			ProcessingTime: n.now().Sub(started),
			Warnings:       []string{"Extraction response could not be parsed"},
		}
	}

	now := n.now().UTC()
	items := make([]mapped, 0, len(doc.TimeFrames)+len(doc.Tasks))
	for _, f := range doc.TimeFrames {
		items = append(items, n.fromFrame(f, now))
	}
	for _, t := range doc.Tasks {
		items = append(items, n.fromTask(t, now))
	}

	tasks := make([]domain.CareTask, 0, len(items))
	restrictions := make([]domain.Restriction, 0)
	for _, item := range items {
		tasks = append(tasks, item.task)
		if item.task.ActionType == domain.ActionDoNot {
			restrictions = append(restrictions, domain.Restriction{
				ID:           n.newID(),
				TaskID:       item.task.ID,
				Type:         domain.RestrictionActivity,
				Description:  item.task.Description,
				Duration:     item.duration,
				Severity:     restrictionSeverity,
				Consequences: restrictionImpact,
			})
		}
	}

	result := domain.ProcessingResult{
		Tasks:         tasks,
		EmergencyInfo: emergencyInfo(doc),
		Medications:   n.medications(doc.Medications),
		Restrictions:  restrictions,
		Confidence:    resultConfidence(doc, tasks),
		Warnings:      n.thresholdWarnings(tasks),
	}
	result.ProcessingTime = n.now().Sub(started)

	slog.Info("normalization_completed",
		"shape", shape.String(),
		"tasks", len(result.Tasks),
		"restrictions", len(result.Restrictions),
		"medications", len(result.Medications),
		"confidence", result.Confidence,
	)
	return result
}

func (n *Normalizer) fromFrame(f frame, now time.Time) mapped {
	message := strings.TrimSpace(f.Message)
	action := domain.ActionDo
	taskType := domain.TaskTypeMedication
	if f.restricted() {
		action = domain.ActionDoNot
		taskType = domain.TaskTypeActivityRestriction
	}
	if tagged := domain.TaskType(strings.ToLower(strings.TrimSpace(f.TaskType))); tagged.Valid() {
		taskType = tagged
	}

	var offset time.Duration
	if f.Time > 0 && strings.TrimSpace(f.Unit) != "" {
		offset = hoursToDuration(offsetHours(float64(f.Time), f.Unit))
	}

	confidence := placeholderConfidence
	if f.Confidence != nil {
		confidence = clampConfidence(float64(*f.Confidence))
	}
	page := int(f.Page)
	if page <= 0 {
		page = defaultPageNumber
	}

	return mapped{
		task: domain.CareTask{
			ID:                n.newID(),
			Title:             taskTitle(message),
			Description:       message,
			Type:              taskType,
			Status:            domain.TaskStatusPending,
			ActionType:        action,
			ScheduledTime:     now.Add(offset),
			EstimatedDuration: defaultTaskMinutes,
			Instructions:      []string{message},
			Reminders:         []domain.Reminder{},
			Dependencies:      []string{},
			Category:          domain.CategoryForOffset(offset),
			Metadata: domain.TaskMetadata{
				Source:       sourcePDFExtraction,
				Confidence:   confidence,
				OriginalText: message,
				PageNumber:   page,
			},
		},
		duration: formatDuration(float64(f.Time), f.Unit),
	}
}

func (n *Normalizer) fromTask(t rawTask, now time.Time) mapped {
	taskType := domain.TaskType(strings.ToLower(strings.TrimSpace(t.Type)))
	if !taskType.Valid() {
		taskType = domain.TaskTypeOther
	}
	action := domain.ActionDo
	if isDoNot(t.ActionType) {
		action = domain.ActionDoNot
	}

	scheduled := now
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(t.ScheduledTime)); err == nil {
		scheduled = ts.UTC()
	}
	category := domain.TaskCategory(strings.ToLower(strings.TrimSpace(t.Category)))
	if !category.Valid() {
		category = domain.CategoryForOffset(scheduled.Sub(now))
	}

	minutes := defaultTaskMinutes
	if hours := float64(t.EstimatedDuration); hours > 0 {
		minutes = max(1, int(hours*60+0.5))
	}

	confidence := placeholderConfidence
	if t.Metadata.Confidence != nil {
		confidence = clampConfidence(float64(*t.Metadata.Confidence))
	}
	page := int(t.Metadata.PageNumber)
	if page <= 0 {
		page = defaultPageNumber
	}
	source := strings.TrimSpace(t.Metadata.Source)
	if source == "" {
		source = sourcePDFExtraction
	}

	description := strings.TrimSpace(t.Description)
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = taskTitle(description)
	} else {
		title = taskTitle(title)
	}
	instructions := nonEmpty(t.Instructions)
	if len(instructions) == 0 && description != "" {
		instructions = []string{description}
	}
	original := strings.TrimSpace(t.Metadata.OriginalText)
	if original == "" {
		original = description
	}

	return mapped{
		task: domain.CareTask{
			ID:                n.newID(),
			Title:             title,
			Description:       description,
			Type:              taskType,
			Status:            domain.TaskStatusPending,
			ActionType:        action,
			ScheduledTime:     scheduled,
			EstimatedDuration: minutes,
			Instructions:      instructions,
			Reminders:         []domain.Reminder{},
			Dependencies:      nonEmpty(t.Dependencies),
			Category:          category,
			Metadata: domain.TaskMetadata{
				Source:       source,
				Confidence:   confidence,
				OriginalText: original,
				PageNumber:   page,
			},
		},
		duration: "As needed",
	}
}

func (n *Normalizer) medications(in []rawMedication) []domain.Medication {
	out := make([]domain.Medication, 0, len(in))
	for _, m := range in {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = n.newID()
		}
		out = append(out, domain.Medication{
			ID:           id,
			Name:         name,
			Dosage:       strings.TrimSpace(m.Dosage),
			Frequency:    strings.TrimSpace(m.Frequency),
			Duration:     strings.TrimSpace(m.Duration),
			Instructions: strings.Join(nonEmpty(m.Instructions), " "),
			SideEffects:  nonEmpty(m.SideEffects),
			Interactions: nonEmpty(m.Interactions),
		})
	}
	return out
}

func (n *Normalizer) thresholdWarnings(tasks []domain.CareTask) []string {
	var warnings []string
	for _, t := range tasks {
		if t.Metadata.Confidence < n.threshold {
			warnings = append(warnings, fmt.Sprintf("Task %q has confidence %.2f below threshold %.2f",
				t.Title, t.Metadata.Confidence, n.threshold))
		}
	}
	return warnings
}

// resultConfidence prefers a backend-supplied value and otherwise averages
// the task confidences. An empty result has confidence 0.
func resultConfidence(doc document, tasks []domain.CareTask) float64 {
	if doc.Confidence != nil {
		return clampConfidence(float64(*doc.Confidence))
	}
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tasks {
		sum += t.Metadata.Confidence
	}
	return clampConfidence(sum / float64(len(tasks)))
}

func isDoNot(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "do_not", "do-not", "donot", "dont", "don't":
		return true
	default:
		return false
	}
}
