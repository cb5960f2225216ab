package domain

import (
	"fmt"
	"time"
)

type TaskType string

const (
	TaskTypeMedication          TaskType = "medication"
	TaskTypeAppointment         TaskType = "appointment"
	TaskTypeExercise            TaskType = "exercise"
	TaskTypeWoundCare           TaskType = "wound_care"
	TaskTypeDiet                TaskType = "diet"
	TaskTypeActivityRestriction TaskType = "activity_restriction"
	TaskTypeMonitoring          TaskType = "monitoring"
	TaskTypeEducation           TaskType = "education"
	TaskTypeOther               TaskType = "other"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeMedication, TaskTypeAppointment, TaskTypeExercise, TaskTypeWoundCare, TaskTypeDiet,
		TaskTypeActivityRestriction, TaskTypeMonitoring, TaskTypeEducation, TaskTypeOther:
		return true
	default:
		return false
	}
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusSkipped    TaskStatus = "skipped"
	TaskStatusOverdue    TaskStatus = "overdue"
)

type TaskActionType string

const (
	ActionDo    TaskActionType = "do"
	ActionDoNot TaskActionType = "do_not"
)

type TaskCategory string

const (
	CategoryImmediate  TaskCategory = "immediate"
	CategoryShortTerm  TaskCategory = "short_term"
	CategoryMediumTerm TaskCategory = "medium_term"
	CategoryLongTerm   TaskCategory = "long_term"
)

func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryImmediate, CategoryShortTerm, CategoryMediumTerm, CategoryLongTerm:
		return true
	default:
		return false
	}
}

// CategoryForOffset buckets an offset from discharge into a task category.
func CategoryForOffset(offset time.Duration) TaskCategory {
	switch {
	case offset <= 24*time.Hour:
		return CategoryImmediate
	case offset <= 7*24*time.Hour:
		return CategoryShortTerm
	case offset <= 28*24*time.Hour:
		return CategoryMediumTerm
	default:
		return CategoryLongTerm
	}
}

type Reminder struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	Type          string    `json:"type"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Message       string    `json:"message"`
	IsActive      bool      `json:"is_active"`
	IsSent        bool      `json:"is_sent"`
}

type TaskMetadata struct {
	Source       string  `json:"source"`
	Confidence   float64 `json:"confidence"`
	OriginalText string  `json:"original_text,omitempty"`
	PageNumber   int     `json:"page_number,omitempty"`
}

// CareTask is created by the normalizer and owned by the task store afterwards.
// For activity_restriction tasks ScheduledTime marks when the restriction starts.
type CareTask struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Type              TaskType       `json:"type"`
	Status            TaskStatus     `json:"status"`
	ActionType        TaskActionType `json:"action_type"`
	ScheduledTime     time.Time      `json:"scheduled_time"`
	CompletedTime     *time.Time     `json:"completed_time,omitempty"`
	EstimatedDuration int            `json:"estimated_duration"`
	Instructions      []string       `json:"instructions"`
	Reminders         []Reminder     `json:"reminders"`
	Dependencies      []string       `json:"dependencies"`
	Category          TaskCategory   `json:"category"`
	Metadata          TaskMetadata   `json:"metadata"`
}

var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusCompleted, TaskStatusSkipped, TaskStatusOverdue},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusSkipped},
	TaskStatusOverdue:    {TaskStatusCompleted, TaskStatusSkipped},
}

func CanTransition(from, to TaskStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the task to a new status, stamping CompletedTime on completion.
func (t *CareTask) Transition(to TaskStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return WrapError(ErrInvalidTransition, "task transition", fmt.Errorf("%s -> %s", t.Status, to))
	}
	t.Status = to
	if to == TaskStatusCompleted {
		completed := at.UTC()
		t.CompletedTime = &completed
	}
	return nil
}

// IsOverdue is true for pending tasks whose scheduled time has passed.
// Restrictions are never overdue: their scheduled time is a start, not a deadline.
func (t CareTask) IsOverdue(now time.Time) bool {
	if t.Status != TaskStatusPending || t.Type == TaskTypeActivityRestriction {
		return false
	}
	return t.ScheduledTime.Before(now)
}
