package domain

import (
	"fmt"
	"time"
)

type UploadState string

const (
	UploadStatePackaging  UploadState = "packaging"
	UploadStateUploading  UploadState = "uploading"
	UploadStateProcessing UploadState = "processing"
	UploadStateCompleted  UploadState = "completed"
	UploadStateFailed     UploadState = "failed"
)

// IsTerminal reports whether polling and retries stop at this state.
func (s UploadState) IsTerminal() bool {
	return s == UploadStateCompleted || s == UploadStateFailed
}

// Stage names the pipeline step that produced a status snapshot.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageEncode     Stage = "encode"
	StageChecksum   Stage = "checksum"
	StageAssemble   Stage = "assemble"
	StageUpload     Stage = "upload"
	StageRetry      Stage = "retry"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	LastModified time.Time `json:"last_modified"`
}

type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	FileInfo FileInfo `json:"file_info"`
}

type UserContext struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name,omitempty"`
	Procedure     string    `json:"procedure"`
	DischargeDate time.Time `json:"discharge_date"`
	Timezone      string    `json:"timezone"`
}

type ClientMetadata struct {
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	UserAgent string `json:"user_agent"`
	// Checksum covers {fileName, fileSize, lastModified}.
	Checksum string `json:"checksum"`
}

type FilePayload struct {
	Base64Content string `json:"base64_content"`
	MimeType      string `json:"mime_type"`
	Checksum      string `json:"checksum"`
}

type ProcessingOptions struct {
	ExtractTasks         bool    `json:"extract_tasks"`
	GenerateTimeline     bool    `json:"generate_timeline"`
	IdentifyMedications  bool    `json:"identify_medications"`
	ExtractEmergencyInfo bool    `json:"extract_emergency_info"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
}

// UploadPackage is immutable once built. A retry builds a new package with a
// fresh UploadID and Timestamp around the same FilePayload.
type UploadPackage struct {
	UploadID    string            `json:"upload_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Client      ClientMetadata    `json:"client"`
	UserContext UserContext       `json:"user_context"`
	File        FilePayload       `json:"file"`
	Options     ProcessingOptions `json:"options"`
}

type PackageCheck struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

type UploadStatus struct {
	UploadID string            `json:"upload_id"`
	Status   UploadState       `json:"status"`
	Stage    Stage             `json:"stage,omitempty"`
	Progress float64           `json:"progress"`
	Message  string            `json:"message"`
	Result   *ProcessingResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	At       time.Time         `json:"at"`
}

type UploadResponse struct {
	Success       bool        `json:"success"`
	UploadID      string      `json:"upload_id"`
	Status        UploadState `json:"status"`
	EstimatedTime string      `json:"estimated_time"`
	StatusURL     string      `json:"status_url"`
}

const maxProcessingEstimate = 120 * time.Second

// EstimateProcessingTime is 10s plus 1s per full 100KiB, capped at 120s.
func EstimateProcessingTime(fileSize int64) time.Duration {
	if fileSize < 0 {
		fileSize = 0
	}
	est := 10*time.Second + time.Duration(fileSize/(100*1024))*time.Second
	return min(est, maxProcessingEstimate)
}

// FormatEstimate renders the estimate range carried by acknowledgements,
// e.g. "10-30 seconds" for small files.
func FormatEstimate(fileSize int64) string {
	low := EstimateProcessingTime(fileSize)
	high := min(3*low, maxProcessingEstimate)
	return fmt.Sprintf("%d-%d seconds", int(low/time.Second), int(high/time.Second))
}
