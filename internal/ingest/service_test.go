package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/extractor/internal/queue"
	"github.com/local/extractor/internal/record"
)

type captureEnqueuer struct {
	payloads []queue.Payload
	err      error
}

func (e *captureEnqueuer) Enqueue(ctx context.Context, p queue.Payload) error {
	if e.err != nil {
		return e.err
	}
	e.payloads = append(e.payloads, p)
	return nil
}

func jpegBytes() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}, []byte("JFIF\x00")...)
}

func TestSubmitDocument(t *testing.T) {
	store := record.NewMemoryStore()
	q := &captureEnqueuer{}
	svc := NewService(store, q)

	sub, err := svc.Submit(context.Background(), "user-1", "scan.jpg", "es", jpegBytes())
	require.NoError(t, err)
	assert.Equal(t, "document", sub.Kind)

	require.Len(t, q.payloads, 1)
	p := q.payloads[0]
	assert.Equal(t, sub.UploadID, p.UploadID)
	assert.Equal(t, sub.RecordID, p.RecordID)
	assert.Equal(t, queue.KindDocument, p.Kind)
	assert.Equal(t, "es", p.Language)
	assert.NotEmpty(t, p.Fingerprint)
	assert.Equal(t, 1, p.Attempt)
	assert.Equal(t, 3, p.Retry.MaxAttempts)

	rec, err := store.GetRecord(context.Background(), sub.RecordID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, rec.Status)

	up, err := store.GetUpload(context.Background(), sub.UploadID)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes(), up.Bytes, "source bytes ride on the upload row until the first durable persist")
	assert.Empty(t, up.StoragePath)
}

func TestSubmitAudioGetsSingleAttemptPolicy(t *testing.T) {
	store := record.NewMemoryStore()
	q := &captureEnqueuer{}
	svc := NewService(store, q)

	data := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 32)...)
	sub, err := svc.Submit(context.Background(), "user-1", "talk.mp3", "", data)
	require.NoError(t, err)
	assert.Equal(t, "audio", sub.Kind)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, queue.KindAudio, q.payloads[0].Kind)
	assert.Equal(t, 1, q.payloads[0].Retry.MaxAttempts)
}

func TestSubmitRejectsUnsupported(t *testing.T) {
	svc := NewService(record.NewMemoryStore(), &captureEnqueuer{})
	_, err := svc.Submit(context.Background(), "user-1", "a.zip", "", []byte("PK\x03\x04\x14\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSubmitRejectsEmpty(t *testing.T) {
	svc := NewService(record.NewMemoryStore(), &captureEnqueuer{})
	_, err := svc.Submit(context.Background(), "user-1", "a.jpg", "", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestSubmitRejectsCorruptPDF(t *testing.T) {
	svc := NewService(record.NewMemoryStore(), &captureEnqueuer{})
	_, err := svc.Submit(context.Background(), "user-1", "bad.pdf", "", []byte("%PDF-1.7 truncated garbage"))
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestSubmitRollsBackOnEnqueueFailure(t *testing.T) {
	store := record.NewMemoryStore()
	q := &captureEnqueuer{err: errors.New("redis down")}
	svc := NewService(store, q)

	_, err := svc.Submit(context.Background(), "user-1", "scan.jpg", "", jpegBytes())
	require.Error(t, err)

	recs, err := store.ListRecords(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "no orphan record after a failed enqueue")
}

func TestResultEnforcesOwnership(t *testing.T) {
	store := record.NewMemoryStore()
	svc := NewService(store, &captureEnqueuer{})
	sub, err := svc.Submit(context.Background(), "user-1", "scan.jpg", "", jpegBytes())
	require.NoError(t, err)

	_, err = svc.Result(context.Background(), "user-2", sub.RecordID)
	assert.ErrorIs(t, err, record.ErrNotFound)

	rec, err := svc.Result(context.Background(), "user-1", sub.RecordID)
	require.NoError(t, err)
	assert.Equal(t, sub.RecordID, rec.ID)
}
