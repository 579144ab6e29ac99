package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/extractor/internal/extract"
)

// RedisStore keeps job and upload records in Redis hashes:
//
//	record:<id>            job record fields
//	record:<id>:page:<n>   per-page sub-result
//	record:byupload:<user>:<upload>  -> record id
//	record:byuser:<user>   ZSET of record ids scored by creation time
//	upload:<id>            upload record fields (bytes held transiently)
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: c}, nil
}

func NewRedisStoreWithClient(c *redis.Client) *RedisStore { return &RedisStore{client: c} }

func (s *RedisStore) Close() error { return s.client.Close() }

func recordKey(id string) string      { return "record:" + id }
func pageKey(id string, n int) string { return fmt.Sprintf("record:%s:page:%d", id, n) }
func byUploadKey(userID, uploadID string) string {
	return fmt.Sprintf("record:byupload:%s:%s", userID, uploadID)
}
func byUserKey(userID string) string { return "record:byuser:" + userID }
func uploadKey(id string) string     { return "upload:" + id }

func (s *RedisStore) CreateRecord(ctx context.Context, r *Record) error {
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = StatusPending
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(r.ID), recordFields(r))
	pipe.Set(ctx, byUploadKey(r.UserID, r.UploadID), r.ID, 0)
	pipe.ZAdd(ctx, byUserKey(r.UserID), redis.Z{Score: float64(now.UnixNano()), Member: r.ID})
	_, err := pipe.Exec(ctx)
	return err
}

func recordFields(r *Record) map[string]any {
	m := map[string]any{
		"upload_id":  r.UploadID,
		"user_id":    r.UserID,
		"job_id":     r.JobID,
		"status":     string(r.Status),
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": r.UpdatedAt.Format(time.RFC3339Nano),
	}
	return m
}

func (s *RedisStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	res, err := s.client.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	r := &Record{ID: id}
	r.UploadID = res["upload_id"]
	r.UserID = res["user_id"]
	r.JobID = res["job_id"]
	r.Status = Status(res["status"])
	r.Summary = res["summary"]
	r.ErrorMessage = res["error_message"]
	if v := res["extracted"]; v != "" {
		_ = json.Unmarshal([]byte(v), &r.Extracted)
	}
	r.CreatedAt = parseTime(res["created_at"])
	r.UpdatedAt = parseTime(res["updated_at"])
	if v := res["completed_at"]; v != "" {
		t := parseTime(v)
		r.CompletedAt = &t
	}
	if v := res["page_count"]; v != "" {
		n, _ := strconv.Atoi(v)
		pages, err := s.pageResults(ctx, id, n)
		if err != nil {
			return nil, err
		}
		r.PageResults = pages
	}
	return r, nil
}

func (s *RedisStore) pageResults(ctx context.Context, id string, n int) ([]extract.PageResult, error) {
	out := make([]extract.PageResult, 0, n)
	for i := 1; i <= n; i++ {
		res, err := s.client.HGetAll(ctx, pageKey(id, i)).Result()
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			continue
		}
		conf, _ := strconv.ParseFloat(res["confidence"], 64)
		out = append(out, extract.PageResult{PageNumber: i, Text: res["text"], Confidence: conf})
	}
	return out, nil
}

func (s *RedisStore) GetRecordByUpload(ctx context.Context, userID, uploadID string) (*Record, error) {
	id, err := s.client.Get(ctx, byUploadKey(userID, uploadID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetRecord(ctx, id)
}

// ListRecords returns the user's records, most recent first.
func (s *RedisStore) ListRecords(ctx context.Context, userID string, limit, offset int64) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.client.ZRevRange(ctx, byUserKey(userID), offset, offset+limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRecord(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// MarkProcessing moves a pending record to processing and stamps the queue
// correlation id.
func (s *RedisStore) MarkProcessing(ctx context.Context, id, jobID string) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != StatusPending && r.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	return s.client.HSet(ctx, recordKey(id), map[string]any{
		"status":     string(StatusProcessing),
		"job_id":     jobID,
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}).Err()
}

// CompleteRecord finalizes a record with its extraction payload. CompletedAt
// is set exactly once, here.
func (s *RedisStore) CompleteRecord(ctx context.Context, id string, content Content, pages []extract.PageResult) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	now := time.Now()
	raw, _ := json.Marshal(content)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(id), map[string]any{
		"status":       string(StatusCompleted),
		"extracted":    string(raw),
		"page_count":   len(pages),
		"updated_at":   now.Format(time.RFC3339Nano),
		"completed_at": now.Format(time.RFC3339Nano),
	})
	for _, p := range pages {
		pipe.HSet(ctx, pageKey(id, p.PageNumber), map[string]any{
			"text":       p.Text,
			"confidence": p.Confidence,
		})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// FailRecord moves a record to failed with a human-readable message.
func (s *RedisStore) FailRecord(ctx context.Context, id, msg string) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusFailed) {
		return ErrInvalidTransition
	}
	return s.client.HSet(ctx, recordKey(id), map[string]any{
		"status":        string(StatusFailed),
		"error_message": msg,
		"updated_at":    time.Now().Format(time.RFC3339Nano),
	}).Err()
}

// SetSummary backfills the derived summary after completion. This is the one
// mutation a terminal record accepts.
func (s *RedisStore) SetSummary(ctx context.Context, id, summary string) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != StatusCompleted {
		return ErrSummaryNotAllowed
	}
	return s.client.HSet(ctx, recordKey(id), map[string]any{
		"summary":    summary,
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}).Err()
}

// DeletePageResults removes the per-page sub-results. Children go before the
// parent record during compensation.
func (s *RedisStore) DeletePageResults(ctx context.Context, id string) error {
	n, err := s.client.HGet(ctx, recordKey(id), "page_count").Int()
	if err == redis.Nil || n == 0 {
		return nil
	}
	if err != nil {
		return err
	}
	keys := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		keys = append(keys, pageKey(id, i))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) DeleteRecord(ctx context.Context, id string) error {
	r, err := s.GetRecord(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(id))
	pipe.Del(ctx, byUploadKey(r.UserID, r.UploadID))
	pipe.ZRem(ctx, byUserKey(r.UserID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateUpload(ctx context.Context, u *Upload) error {
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = StatusPending
	}
	return s.client.HSet(ctx, uploadKey(u.ID), map[string]any{
		"user_id":    u.UserID,
		"file_name":  u.FileName,
		"mime_type":  u.MimeType,
		"size":       u.Size,
		"page_count": u.PageCount,
		"bytes":      string(u.Bytes),
		"status":     string(u.Status),
		"created_at": now.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}).Err()
}

func (s *RedisStore) GetUpload(ctx context.Context, id string) (*Upload, error) {
	res, err := s.client.HGetAll(ctx, uploadKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrUploadNotFound
	}
	u := &Upload{ID: id}
	u.UserID = res["user_id"]
	u.FileName = res["file_name"]
	u.MimeType = res["mime_type"]
	u.Size, _ = strconv.ParseInt(res["size"], 10, 64)
	u.PageCount, _ = strconv.Atoi(res["page_count"])
	u.Bytes = []byte(res["bytes"])
	u.StoragePath = res["storage_path"]
	u.Status = Status(res["status"])
	u.CreatedAt = parseTime(res["created_at"])
	u.UpdatedAt = parseTime(res["updated_at"])
	if v := res["processed_at"]; v != "" {
		t := parseTime(v)
		u.ProcessedAt = &t
	}
	return u, nil
}

// StoreUploadPath records the durable-storage key once extraction succeeded
// and drops the transient bytes: from here on durable storage is the source.
func (s *RedisStore) StoreUploadPath(ctx context.Context, id, path string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, uploadKey(id), map[string]any{
		"storage_path": path,
		"status":       string(StatusProcessing),
		"updated_at":   time.Now().Format(time.RFC3339Nano),
	})
	pipe.HDel(ctx, uploadKey(id), "bytes")
	_, err := pipe.Exec(ctx)
	return err
}

// CompleteUpload mirrors terminal success onto the upload row.
func (s *RedisStore) CompleteUpload(ctx context.Context, id string) error {
	now := time.Now()
	return s.client.HSet(ctx, uploadKey(id), map[string]any{
		"status":       string(StatusCompleted),
		"updated_at":   now.Format(time.RFC3339Nano),
		"processed_at": now.Format(time.RFC3339Nano),
	}).Err()
}

func (s *RedisStore) DeleteUpload(ctx context.Context, id string) error {
	return s.client.Del(ctx, uploadKey(id)).Err()
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}
