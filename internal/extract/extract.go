package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request carries one file through an extraction backend.
type Request struct {
	Data     []byte
	FileName string
	Language string
}

// PageResult is one page's text for document extraction. Audio results carry
// no pages.
type PageResult struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the raw backend output, cached pre-normalization.
type Result struct {
	Text             string       `json:"text"`
	Confidence       float64      `json:"confidence"`
	Language         string       `json:"language,omitempty"`
	PageCount        int          `json:"page_count,omitempty"`
	PageResults      []PageResult `json:"page_results,omitempty"`
	ProcessingTimeMs int64        `json:"processing_time_ms,omitempty"`
	EngineVersion    string       `json:"engine_version,omitempty"`

	// Transcription extras.
	DetectedLanguage   string  `json:"detected_language,omitempty"`
	LanguageConfidence float64 `json:"language_confidence,omitempty"`
	Raw                string  `json:"raw,omitempty"`
}

// Empty reports whether the backend produced no usable text. An empty result
// is indistinguishable from a silent backend malfunction and is treated as a
// failure by the caller.
func (r Result) Empty() bool { return strings.TrimSpace(r.Text) == "" }

// Engine is the narrow contract the worker depends on. The concrete execution
// mechanism (subprocess, remote API, library call) is an implementation
// detail behind it.
type Engine interface {
	Name() string
	Extract(ctx context.Context, req Request) (Result, error)
}

// ErrEmptyResult marks a call that "succeeded" but returned no text.
var ErrEmptyResult = errors.New("extraction produced no text")

// ExitError reports a non-zero exit from the OCR subprocess.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("extraction engine exited with code %d: %s", e.Code, e.Stderr)
}

// BackendError reports an HTTP-level failure from a remote backend.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is worth a queue-level retry: process
// spawn/exit problems, 5xx/429 responses, timeouts and network failures.
// Invariant violations and 4xx responses are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return true
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Status == 429 || backendErr.Status >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "eof")
}
