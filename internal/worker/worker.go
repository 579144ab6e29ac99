package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/extractor/internal/cache"
	"github.com/local/extractor/internal/extract"
	"github.com/local/extractor/internal/metrics"
	"github.com/local/extractor/internal/notify"
	"github.com/local/extractor/internal/queue"
	"github.com/local/extractor/internal/record"
	"github.com/local/extractor/internal/summarize"
)

// Queue is the consumer-side slice of the job queue.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, block time.Duration) (string, queue.Payload, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, p queue.Payload, executeAt time.Time) error
	AddDLQ(ctx context.Context, p queue.Payload, reason string) error
}

// RecordStore is the slice of the record store the worker writes through.
type RecordStore interface {
	GetUpload(ctx context.Context, id string) (*record.Upload, error)
	StoreUploadPath(ctx context.Context, id, path string) error
	CompleteUpload(ctx context.Context, id string) error
	DeleteUpload(ctx context.Context, id string) error
	MarkProcessing(ctx context.Context, id, jobID string) error
	CompleteRecord(ctx context.Context, id string, content record.Content, pages []extract.PageResult) error
	FailRecord(ctx context.Context, id, msg string) error
	SetSummary(ctx context.Context, id, summary string) error
	DeletePageResults(ctx context.Context, id string) error
	DeleteRecord(ctx context.Context, id string) error
}

// BlobStore is the slice of durable storage the worker uses.
type BlobStore interface {
	Put(ctx context.Context, ownerID, fileName, contentType string, data []byte) (string, error)
	PutText(ctx context.Context, subdir, ownerID, fileName, text string) (string, error)
	Delete(ctx context.Context, ownerID, key string) error
}

// Notifier delivers progress events to a user's live sessions.
type Notifier interface {
	Notify(userID string, ev notify.Event)
}

// TextLayerProber is the optional PDF embedded-text fast path.
type TextLayerProber interface {
	Probe(pdfData []byte) (extract.Result, bool, error)
}

type Config struct {
	Concurrency      int
	SummaryStyle     summarize.Style
	SummaryMaxTokens int
}

// Worker consumes extraction jobs and drives each one to a terminal state.
// Each job is processed end-to-end by one goroutine; a fatal error is
// translated into a failed record plus compensation, never a crash.
type Worker struct {
	cfg        Config
	q          Queue
	records    RecordStore
	blobs      BlobStore
	cache      cache.Cache
	notifier   Notifier
	document   extract.Engine
	audio      extract.Engine
	textLayer  TextLayerProber
	summarizer summarize.Summarizer

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, q Queue, records RecordStore, blobs BlobStore, c cache.Cache,
	notifier Notifier, document, audio extract.Engine, summarizer summarize.Summarizer) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.SummaryStyle == "" {
		cfg.SummaryStyle = summarize.StyleParagraph
	}
	return &Worker{
		cfg:        cfg,
		q:          q,
		records:    records,
		blobs:      blobs,
		cache:      c,
		notifier:   notifier,
		document:   document,
		audio:      audio,
		summarizer: summarizer,
		stop:       make(chan struct{}),
	}
}

// SetTextLayerProber enables the PDF embedded-text fast path.
func (w *Worker) SetTextLayerProber(p TextLayerProber) { w.textLayer = p }

func (w *Worker) Start() {
	host, _ := os.Hostname()
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(fmt.Sprintf("%s-%d", host, i))
	}
}

func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(consumer string) {
	defer w.wg.Done()
	log.Info().Str("consumer", consumer).Msg("extraction worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Str("consumer", consumer).Msg("extraction worker stopped")
			return
		default:
		}

		msgID, p, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			if msgID != "" {
				// Undecodable entry. Park it and ack so it cannot sit in the
				// pending list forever.
				log.Error().Err(err).Str("msg_id", msgID).Msg("undecodable message, parking in dlq")
				if dlqErr := w.q.AddDLQ(context.Background(), queue.Payload{}, err.Error()); dlqErr != nil {
					log.Error().Err(dlqErr).Str("msg_id", msgID).Msg("dlq write failed")
				}
				if ackErr := w.q.Ack(context.Background(), msgID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msgID).Msg("ack failed")
				}
				continue
			}
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if msgID == "" {
			continue
		}

		w.Process(context.Background(), p)
		if err := w.q.Ack(context.Background(), msgID); err != nil {
			log.Error().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}
}

// Process drives one job to a terminal state. All errors are absorbed here;
// the caller only acks the message afterwards.
func (w *Worker) Process(ctx context.Context, p queue.Payload) {
	lg := log.With().Str("job_id", p.JobID).Str("record_id", p.RecordID).
		Str("upload_id", p.UploadID).Str("kind", string(p.Kind)).Int("attempt", p.Attempt).Logger()
	lg.Info().Msg("job dequeued")

	if err := w.records.MarkProcessing(ctx, p.RecordID, p.JobID); err != nil {
		if errors.Is(err, record.ErrInvalidTransition) {
			// Already terminal; a delayed retry raced a concurrent completion.
			lg.Warn().Msg("record already terminal, skipping")
			return
		}
		w.fail(ctx, p, "", fmt.Errorf("mark processing: %w", err), lg)
		return
	}

	w.emit(p, notify.Event{Stage: notify.StageUploading, Progress: notify.ProgressUploading, Message: "File received"})

	up, err := w.records.GetUpload(ctx, p.UploadID)
	if err != nil || len(up.Bytes) == 0 {
		if err == nil {
			err = errors.New("upload has no source bytes")
		}
		// Invariant violation, never retried.
		w.fail(ctx, p, "", err, lg)
		return
	}

	w.emit(p, notify.Event{Stage: notify.StageExtracting, Progress: notify.ProgressExtracting, Message: "Extracting content"})

	res, fromCache, err := w.extractOrCached(ctx, p, up, lg)
	if err != nil {
		if extract.IsTransient(err) && p.Kind == queue.KindDocument && p.Attempt < p.Retry.MaxAttempts {
			w.retry(ctx, p, err, lg)
			return
		}
		w.fail(ctx, p, "", err, lg)
		return
	}
	if res.Empty() {
		w.fail(ctx, p, "", extract.ErrEmptyResult, lg)
		return
	}

	// The file proved usable; persist it durably now.
	blobKey, err := w.blobs.Put(ctx, up.UserID, up.FileName, up.MimeType, up.Bytes)
	if err != nil {
		w.fail(ctx, p, "", fmt.Errorf("store blob: %w", err), lg)
		return
	}
	if err := w.records.StoreUploadPath(ctx, p.UploadID, blobKey); err != nil {
		w.fail(ctx, p, blobKey, fmt.Errorf("store upload path: %w", err), lg)
		return
	}

	content := record.Content{
		Text:               res.Text,
		Confidence:         res.Confidence,
		Language:           p.Language,
		DetectedLanguage:   res.DetectedLanguage,
		LanguageConfidence: res.LanguageConfidence,
		Raw:                res.Raw,
	}
	if err := w.records.CompleteRecord(ctx, p.RecordID, content, res.PageResults); err != nil {
		w.fail(ctx, p, blobKey, fmt.Errorf("complete record: %w", err), lg)
		return
	}
	if err := w.records.CompleteUpload(ctx, p.UploadID); err != nil {
		lg.Error().Err(err).Msg("complete upload failed")
	}

	if p.Kind == queue.KindAudio {
		if _, err := w.blobs.PutText(ctx, "transcripts", up.UserID, up.FileName+".txt", res.Text); err != nil {
			lg.Warn().Err(err).Msg("transcript artifact store failed")
		}
	}

	summary := w.summarize(ctx, p, res.Text, up, lg)

	w.emit(p, notify.Event{
		Stage:    notify.StageCompleted,
		Progress: notify.ProgressCompleted,
		Message:  "Processing complete",
		Payload: map[string]any{
			"text":       res.Text,
			"confidence": res.Confidence,
			"summary":    summary,
			"cached":     fromCache,
		},
	})
	metrics.IncProcessed(string(p.Kind), "completed")
	lg.Info().Bool("cached", fromCache).Int("chars", len(res.Text)).Msg("job completed")
}

// extractOrCached returns the cached result for the payload's fingerprint, or
// invokes the backend and populates the cache.
func (w *Worker) extractOrCached(ctx context.Context, p queue.Payload, up *record.Upload, lg zerolog.Logger) (extract.Result, bool, error) {
	if res, ok, err := w.cache.Get(ctx, p.Fingerprint); err != nil {
		lg.Warn().Err(err).Msg("cache get failed, treating as miss")
	} else if ok {
		metrics.IncCacheHit()
		lg.Info().Msg("cache hit, skipping backend")
		return res, true, nil
	}
	metrics.IncCacheMiss()

	engine := w.document
	if p.Kind == queue.KindAudio {
		engine = w.audio
	}

	if p.Kind == queue.KindDocument && w.textLayer != nil && isPDF(up.MimeType) {
		if res, ok, err := w.textLayer.Probe(up.Bytes); err != nil {
			lg.Warn().Err(err).Msg("text layer probe failed, falling back to ocr")
		} else if ok {
			lg.Info().Int("pages", res.PageCount).Msg("using embedded pdf text layer")
			w.putCache(ctx, p.Fingerprint, res, lg)
			return res, false, nil
		}
	}

	start := time.Now()
	res, err := engine.Extract(ctx, extract.Request{
		Data:     up.Bytes,
		FileName: up.FileName,
		Language: p.Language,
	})
	metrics.ObserveExtraction(string(p.Kind), engine.Name(), time.Since(start))
	if err != nil {
		return extract.Result{}, false, err
	}
	if !res.Empty() {
		w.putCache(ctx, p.Fingerprint, res, lg)
	}
	return res, false, nil
}

func (w *Worker) putCache(ctx context.Context, fp string, res extract.Result, lg zerolog.Logger) {
	if err := w.cache.Put(ctx, fp, res); err != nil {
		lg.Warn().Err(err).Msg("cache put failed")
	}
	if n, err := w.cache.Len(ctx); err == nil {
		metrics.SetCacheEntries(int(n))
	}
}

// summarize streams the summary chunk-by-chunk to the client and backfills
// the record. Any failure here degrades to an empty summary; the extracted
// text is already secured.
func (w *Worker) summarize(ctx context.Context, p queue.Payload, text string, up *record.Upload, lg zerolog.Logger) string {
	if w.summarizer == nil {
		return ""
	}
	w.emit(p, notify.Event{Stage: notify.StageGenerating, Progress: notify.ProgressGenerating, Message: "Generating summary"})

	var b strings.Builder
	err := w.summarizer.Stream(ctx, summarize.Request{
		Text:      text,
		Language:  p.Language,
		Style:     w.cfg.SummaryStyle,
		MaxTokens: w.cfg.SummaryMaxTokens,
	}, func(chunk string) error {
		b.WriteString(chunk)
		metrics.IncSummaryChunk()
		w.emit(p, notify.Event{Stage: notify.StageGenerating, Progress: notify.ProgressGenerating, Chunk: chunk})
		return nil
	})
	if err != nil {
		lg.Warn().Err(err).Msg("summarization failed, completing without summary")
		return ""
	}
	summary := b.String()
	if summary == "" {
		return ""
	}
	if err := w.records.SetSummary(ctx, p.RecordID, summary); err != nil {
		lg.Error().Err(err).Msg("summary backfill failed")
	}
	if _, err := w.blobs.PutText(ctx, "summaries", up.UserID, up.FileName+".summary.txt", summary); err != nil {
		lg.Warn().Err(err).Msg("summary artifact store failed")
	}
	return summary
}

// retry re-enqueues the job through the delayed set with an incremented
// attempt counter.
func (w *Worker) retry(ctx context.Context, p queue.Payload, cause error, lg zerolog.Logger) {
	delay := p.Retry.Backoff(p.Attempt)
	next := p
	next.Attempt++
	if err := w.q.EnqueueDelayed(ctx, next, time.Now().Add(delay)); err != nil {
		lg.Error().Err(err).Msg("delayed re-enqueue failed, failing job")
		w.fail(ctx, p, "", cause, lg)
		return
	}
	metrics.IncRetry(string(p.Kind))
	metrics.IncProcessed(string(p.Kind), "retried")
	lg.Warn().Err(cause).Dur("delay", delay).Int("next_attempt", next.Attempt).Msg("transient failure, retrying")
}

// fail is the single failure path: record marked failed, client notified,
// cache entry for this fingerprint scrubbed, partial side effects reversed.
func (w *Worker) fail(ctx context.Context, p queue.Payload, blobKey string, cause error, lg zerolog.Logger) {
	lg.Error().Err(cause).Msg("job failed")

	if err := w.records.FailRecord(ctx, p.RecordID, userMessage(cause)); err != nil {
		lg.Error().Err(err).Msg("mark failed errored")
	}
	w.emit(p, notify.Event{Stage: notify.StageError, Message: "Processing failed", Error: userMessage(cause)})

	if err := w.cache.Invalidate(ctx, p.Fingerprint); err != nil {
		lg.Warn().Err(err).Msg("cache invalidate failed")
	}

	w.compensate(ctx, p, blobKey, lg)

	if p.Attempt >= p.Retry.MaxAttempts {
		if err := w.q.AddDLQ(ctx, p, cause.Error()); err != nil {
			lg.Error().Err(err).Msg("dlq write failed")
		}
		metrics.IncProcessed(string(p.Kind), "dlq")
	}
	metrics.IncProcessed(string(p.Kind), "failed")
}

func (w *Worker) emit(p queue.Payload, ev notify.Event) {
	ev.UploadID = p.UploadID
	ev.Timestamp = time.Now()
	w.notifier.Notify(p.UserID, ev)
	metrics.IncProgress(string(ev.Stage))
}

func isPDF(mimeType string) bool {
	return strings.HasPrefix(mimeType, "application/pdf")
}

// userMessage keeps internal detail out of client-facing errors.
func userMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrEmptyResult):
		return "No text could be extracted from the file"
	case errors.Is(err, context.DeadlineExceeded):
		return "Processing timed out"
	default:
		var be *extract.BackendError
		if errors.As(err, &be) {
			return "The extraction service is temporarily unavailable"
		}
		var xe *extract.ExitError
		if errors.As(err, &xe) {
			return "The extraction engine could not process the file"
		}
		return err.Error()
	}
}
