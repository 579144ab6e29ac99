package queue

import (
	"encoding/json"
	"time"
)

// Kind selects the extraction backend and the retry policy for a job.
type Kind string

const (
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
)

// RetryPolicy is carried per job. Document jobs get bounded retries with
// exponential backoff because the OCR engine can be transiently unavailable.
// Audio jobs run once: the transcription call already polls for minutes
// internally, and a queue-level retry would repeat that expensive work.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
}

func DocumentRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

func AudioRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff returns the delay before the given attempt (1-based) is retried.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Payload is the unit of work moving through the stream.
type Payload struct {
	JobID       string      `json:"job_id"`
	UploadID    string      `json:"upload_id"`
	RecordID    string      `json:"record_id"`
	UserID      string      `json:"user_id"`
	Kind        Kind        `json:"kind"`
	Language    string      `json:"language,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	Attempt     int         `json:"attempt"`
	Retry       RetryPolicy `json:"retry"`
}

func (p Payload) Marshal() []byte {
	b, _ := json.Marshal(p)
	return b
}

func Unmarshal(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
