package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/extractor/internal/filetype"
	"github.com/local/extractor/internal/fingerprint"
	"github.com/local/extractor/internal/queue"
	"github.com/local/extractor/internal/record"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("empty file")
	ErrInvalidPDF      = errors.New("invalid pdf")
)

// Enqueuer is the producer-side slice of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload) error
}

// RecordStore is the slice of the record store the ingest path writes.
type RecordStore interface {
	CreateUpload(ctx context.Context, u *record.Upload) error
	DeleteUpload(ctx context.Context, id string) error
	CreateRecord(ctx context.Context, r *record.Record) error
	DeleteRecord(ctx context.Context, id string) error
	GetRecord(ctx context.Context, id string) (*record.Record, error)
	GetRecordByUpload(ctx context.Context, userID, uploadID string) (*record.Record, error)
	ListRecords(ctx context.Context, userID string, limit, offset int64) ([]*record.Record, error)
}

// Service accepts uploads, routes them by content type and hands them to the
// queue. Nothing durable is written here: the original bytes ride on the
// upload record until the worker proves the file usable.
type Service struct {
	records  RecordStore
	q        Enqueuer
	detector *filetype.Detector
	docRetry queue.RetryPolicy
}

func NewService(records RecordStore, q Enqueuer) *Service {
	return &Service{
		records:  records,
		q:        q,
		detector: filetype.New(),
		docRetry: queue.DocumentRetryPolicy(),
	}
}

// SetDocumentRetryPolicy overrides the default document retry policy.
func (s *Service) SetDocumentRetryPolicy(p queue.RetryPolicy) {
	if p.MaxAttempts > 0 {
		s.docRetry = p
	}
}

// Submission is the accepted-job receipt returned to the client.
type Submission struct {
	UploadID  string `json:"upload_id"`
	RecordID  string `json:"record_id"`
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	PageCount int    `json:"page_count,omitempty"`
}

// Submit validates the file, creates the upload and record rows and enqueues
// the extraction job. When the enqueue fails both rows are rolled back so no
// orphan is left behind.
func (s *Service) Submit(ctx context.Context, userID, fileName, language string, data []byte) (*Submission, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	info, err := s.detector.Detect(fileName, data)
	if err != nil {
		return nil, err
	}
	if info.Class == filetype.ClassUnsupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, info.MIMEType)
	}

	pageCount := 0
	if info.IsPDF {
		n, err := api.PageCount(bytes.NewReader(data), nil)
		if err != nil {
			// A PDF pdfcpu cannot open will not survive extraction either.
			return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
		}
		pageCount = n
	}

	up := &record.Upload{
		ID:        uuid.NewString(),
		UserID:    userID,
		FileName:  fileName,
		MimeType:  info.MIMEType,
		Size:      int64(len(data)),
		PageCount: pageCount,
		Bytes:     data,
		Status:    record.StatusPending,
	}
	if err := s.records.CreateUpload(ctx, up); err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	rec := &record.Record{
		ID:       uuid.NewString(),
		UploadID: up.ID,
		UserID:   userID,
		Status:   record.StatusPending,
	}
	if err := s.records.CreateRecord(ctx, rec); err != nil {
		s.rollback(ctx, up.ID, "")
		return nil, fmt.Errorf("create record: %w", err)
	}

	kind := queue.KindDocument
	retry := s.docRetry
	if info.Class == filetype.ClassAudio {
		kind = queue.KindAudio
		retry = queue.AudioRetryPolicy()
	}
	p := queue.Payload{
		JobID:       uuid.NewString(),
		UploadID:    up.ID,
		RecordID:    rec.ID,
		UserID:      userID,
		Kind:        kind,
		Language:    language,
		Fingerprint: fingerprint.Sum(data),
		Attempt:     1,
		Retry:       retry,
	}
	if err := s.q.Enqueue(ctx, p); err != nil {
		s.rollback(ctx, up.ID, rec.ID)
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	log.Info().Str("upload_id", up.ID).Str("record_id", rec.ID).Str("job_id", p.JobID).
		Str("kind", string(kind)).Int64("size", up.Size).Msg("job submitted")
	return &Submission{
		UploadID:  up.ID,
		RecordID:  rec.ID,
		JobID:     p.JobID,
		Kind:      string(kind),
		PageCount: pageCount,
	}, nil
}

// rollback removes rows created during a failed submission. Best-effort.
func (s *Service) rollback(ctx context.Context, uploadID, recordID string) {
	if recordID != "" {
		if err := s.records.DeleteRecord(ctx, recordID); err != nil {
			log.Error().Err(err).Str("record_id", recordID).Msg("submission rollback: record delete failed")
		}
	}
	if err := s.records.DeleteUpload(ctx, uploadID); err != nil {
		log.Error().Err(err).Str("upload_id", uploadID).Msg("submission rollback: upload delete failed")
	}
}

// Result returns one record owned by userID.
func (s *Service) Result(ctx context.Context, userID, recordID string) (*record.Record, error) {
	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, record.ErrNotFound
	}
	return rec, nil
}

// ResultByUpload returns the record for an upload owned by userID.
func (s *Service) ResultByUpload(ctx context.Context, userID, uploadID string) (*record.Record, error) {
	return s.records.GetRecordByUpload(ctx, userID, uploadID)
}

// Results lists the user's records, newest first.
func (s *Service) Results(ctx context.Context, userID string, limit, offset int64) ([]*record.Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.records.ListRecords(ctx, userID, limit, offset)
}
