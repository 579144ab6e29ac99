package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/local/extractor/internal/extract"
)

// MemoryStore is the in-process variant, used for single-node runs and tests.
// Semantics match RedisStore, including transition guards.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	byUpload map[string]string // userID+"/"+uploadID -> record id
	uploads  map[string]*Upload
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		byUpload: make(map[string]string),
		uploads:  make(map[string]*Upload),
	}
}

func cloneRecord(r *Record) *Record {
	cp := *r
	cp.PageResults = append([]extract.PageResult(nil), r.PageResults...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneUpload(u *Upload) *Upload {
	cp := *u
	cp.Bytes = append([]byte(nil), u.Bytes...)
	if u.ProcessedAt != nil {
		t := *u.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

func (s *MemoryStore) CreateRecord(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = StatusPending
	}
	s.records[r.ID] = cloneRecord(r)
	s.byUpload[r.UserID+"/"+r.UploadID] = r.ID
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) GetRecordByUpload(ctx context.Context, userID, uploadID string) (*Record, error) {
	s.mu.RLock()
	id, ok := s.byUpload[userID+"/"+uploadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetRecord(ctx, id)
}

func (s *MemoryStore) ListRecords(_ context.Context, userID string, limit, offset int64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Record, 0)
	for _, r := range s.records {
		if r.UserID == userID {
			all = append(all, cloneRecord(r))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit <= 0 {
		limit = 20
	}
	if offset >= int64(len(all)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[offset:end], nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending && r.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	r.Status = StatusProcessing
	r.JobID = jobID
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CompleteRecord(_ context.Context, id string, content Content, pages []extract.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	now := time.Now()
	r.Status = StatusCompleted
	r.Extracted = content
	r.PageResults = append([]extract.PageResult(nil), pages...)
	r.UpdatedAt = now
	r.CompletedAt = &now
	return nil
}

func (s *MemoryStore) FailRecord(_ context.Context, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(r.Status, StatusFailed) {
		return ErrInvalidTransition
	}
	r.Status = StatusFailed
	r.ErrorMessage = msg
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusCompleted {
		return ErrSummaryNotAllowed
	}
	r.Summary = summary
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeletePageResults(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.PageResults = nil
	}
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.byUpload, r.UserID+"/"+r.UploadID)
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) CreateUpload(_ context.Context, u *Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = StatusPending
	}
	s.uploads[u.ID] = cloneUpload(u)
	return nil
}

func (s *MemoryStore) GetUpload(_ context.Context, id string) (*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return cloneUpload(u), nil
}

func (s *MemoryStore) StoreUploadPath(_ context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return ErrUploadNotFound
	}
	u.StoragePath = path
	u.Bytes = nil
	u.Status = StatusProcessing
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CompleteUpload(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return ErrUploadNotFound
	}
	now := time.Now()
	u.Status = StatusCompleted
	u.UpdatedAt = now
	u.ProcessedAt = &now
	return nil
}

func (s *MemoryStore) DeleteUpload(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, id)
	return nil
}
