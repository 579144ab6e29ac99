package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/extractor/internal/extract"
)

func newRecord(t *testing.T, s *MemoryStore) *Record {
	t.Helper()
	r := &Record{ID: "rec-1", UploadID: "up-1", UserID: "user-1", Status: StatusPending}
	require.NoError(t, s.CreateRecord(context.Background(), r))
	return r
}

func TestCompleteSetsCompletedAtOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRecord(t, s)
	require.NoError(t, s.MarkProcessing(ctx, r.ID, "job-1"))
	require.NoError(t, s.CompleteRecord(ctx, r.ID, Content{Text: "t", Confidence: 1}, nil))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	first := *got.CompletedAt

	// A second completion must not move the terminal record.
	time.Sleep(time.Millisecond)
	err = s.CompleteRecord(ctx, r.ID, Content{Text: "other"}, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	got, _ = s.GetRecord(ctx, r.ID)
	assert.Equal(t, first, *got.CompletedAt)
	assert.Equal(t, "t", got.Extracted.Text)
}

func TestFailedRecordCarriesErrorMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRecord(t, s)
	require.NoError(t, s.MarkProcessing(ctx, r.ID, "job-1"))
	require.NoError(t, s.FailRecord(ctx, r.ID, "backend exploded"))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "backend exploded", got.ErrorMessage)
	assert.Nil(t, got.CompletedAt, "completedAt is set only on terminal success")
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRecord(t, s)
	require.NoError(t, s.MarkProcessing(ctx, r.ID, "job-1"))
	require.NoError(t, s.FailRecord(ctx, r.ID, "boom"))

	assert.ErrorIs(t, s.MarkProcessing(ctx, r.ID, "job-2"), ErrInvalidTransition)
	assert.ErrorIs(t, s.CompleteRecord(ctx, r.ID, Content{Text: "t"}, nil), ErrInvalidTransition)
	assert.ErrorIs(t, s.FailRecord(ctx, r.ID, "again"), ErrInvalidTransition)
}

func TestSummaryBackfillOnlyOnCompleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRecord(t, s)

	assert.ErrorIs(t, s.SetSummary(ctx, r.ID, "too early"), ErrSummaryNotAllowed)

	require.NoError(t, s.MarkProcessing(ctx, r.ID, "job-1"))
	require.NoError(t, s.CompleteRecord(ctx, r.ID, Content{Text: "t"}, nil))
	require.NoError(t, s.SetSummary(ctx, r.ID, "the summary"))

	got, _ := s.GetRecord(ctx, r.ID)
	assert.Equal(t, "the summary", got.Summary)
}

func TestPageResultsRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRecord(t, s)
	require.NoError(t, s.MarkProcessing(ctx, r.ID, "job-1"))
	pages := []extract.PageResult{
		{PageNumber: 1, Text: "one", Confidence: 0.9},
		{PageNumber: 2, Text: "two", Confidence: 0.8},
	}
	require.NoError(t, s.CompleteRecord(ctx, r.ID, Content{Text: "one\ntwo"}, pages))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, pages, got.PageResults)

	require.NoError(t, s.DeletePageResults(ctx, r.ID))
	got, _ = s.GetRecord(ctx, r.ID)
	assert.Empty(t, got.PageResults)
}

func TestListRecordsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateRecord(ctx, &Record{ID: id, UploadID: "up-" + id, UserID: "u1", Status: StatusPending}))
		time.Sleep(time.Millisecond)
	}
	recs, err := s.ListRecords(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestUploadLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	up := &Upload{ID: "up-1", UserID: "u1", FileName: "f.pdf", Bytes: []byte("data"), Status: StatusPending}
	require.NoError(t, s.CreateUpload(ctx, up))

	require.NoError(t, s.StoreUploadPath(ctx, up.ID, "uploads/u1/123-abcd-f.pdf"))
	got, err := s.GetUpload(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/123-abcd-f.pdf", got.StoragePath)
	assert.Empty(t, got.Bytes, "transient bytes dropped once the durable path exists")

	require.NoError(t, s.DeleteUpload(ctx, up.ID))
	_, err = s.GetUpload(ctx, up.ID)
	assert.ErrorIs(t, err, ErrUploadNotFound)
}
