package record

import (
	"errors"
	"time"

	"github.com/local/extractor/internal/extract"
)

// Status is the job record state machine. pending -> processing ->
// completed|failed. Nothing leaves a terminal state; the only write allowed
// after completed is the summary backfill.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrSummaryNotAllowed = errors.New("summary backfill requires a completed record")
)

// Content is the structured extraction payload stored on a completed record.
type Content struct {
	Text               string  `json:"text"`
	Confidence         float64 `json:"confidence"`
	Language           string  `json:"language,omitempty"`
	DetectedLanguage   string  `json:"detected_language,omitempty"`
	LanguageConfidence float64 `json:"language_confidence,omitempty"`
	Raw                string  `json:"raw,omitempty"`
}

// Record tracks one extraction request's lifecycle and result.
//
// Invariants: CompletedAt is non-nil iff Status == completed; ErrorMessage is
// non-empty iff Status == failed.
type Record struct {
	ID           string
	UploadID     string
	UserID       string
	JobID        string // queue correlation id, operational tracing only
	Status       Status
	Extracted    Content
	Summary      string
	PageResults  []extract.PageResult
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Upload holds the submitted file until hand-off to durable storage. Bytes
// are retained transiently so the worker can run without re-fetching;
// StoragePath stays empty until extraction proves the file usable.
type Upload struct {
	ID          string
	UserID      string
	FileName    string
	MimeType    string
	Size        int64
	PageCount   int
	Bytes       []byte
	StoragePath string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}
