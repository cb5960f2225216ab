package domain

import "time"

type ContactInfo struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
}

type HospitalInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type EmergencyInfo struct {
	WarningSignsTitle       string        `json:"warning_signs_title"`
	WarningSignsDescription string        `json:"warning_signs_description"`
	WarningSignsList        []string      `json:"warning_signs_list"`
	EmergencyContact        ContactInfo   `json:"emergency_contact"`
	DoctorContact           ContactInfo   `json:"doctor_contact"`
	HospitalInfo            *HospitalInfo `json:"hospital_info,omitempty"`
}

type Medication struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage"`
	Frequency    string   `json:"frequency"`
	Duration     string   `json:"duration"`
	Instructions string   `json:"instructions"`
	SideEffects  []string `json:"side_effects,omitempty"`
	Interactions []string `json:"interactions,omitempty"`
}

type RestrictionType string

const (
	RestrictionActivity   RestrictionType = "activity"
	RestrictionDietary    RestrictionType = "dietary"
	RestrictionMedication RestrictionType = "medication"
	RestrictionLifestyle  RestrictionType = "lifestyle"
)

type Restriction struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id,omitempty"`
	Type         RestrictionType `json:"type"`
	Description  string          `json:"description"`
	Duration     string          `json:"duration"`
	Severity     string          `json:"severity"`
	Consequences string          `json:"consequences,omitempty"`
}

// ProcessingResult is produced once per successful attempt and owned by the caller.
type ProcessingResult struct {
	Tasks          []CareTask    `json:"tasks"`
	EmergencyInfo  EmergencyInfo `json:"emergency_info"`
	Medications    []Medication  `json:"medications"`
	Restrictions   []Restriction `json:"restrictions"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// ExtractionCompleted is the event emitted once an attempt reaches completed.
type ExtractionCompleted struct {
	UploadID    string           `json:"upload_id"`
	UserID      string           `json:"user_id"`
	Procedure   string           `json:"procedure,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
	Result      ProcessingResult `json:"result"`
}

// TimeFrame is one instruction unit produced by the extraction backend.
// Type is 1 for "do not" instructions and 0 otherwise.
type TimeFrame struct {
	Time       float64 `json:"time"`
	Unit       string  `json:"unit"`
	Message    string  `json:"message"`
	Type       int     `json:"type"`
	TaskType   string  `json:"task_type,omitempty"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
}
