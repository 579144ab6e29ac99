package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/extractor/internal/cache"
	cfgpkg "github.com/local/extractor/internal/config"
	"github.com/local/extractor/internal/extract"
	"github.com/local/extractor/internal/ingest"
	logpkg "github.com/local/extractor/internal/logger"
	"github.com/local/extractor/internal/metrics"
	"github.com/local/extractor/internal/notify"
	"github.com/local/extractor/internal/queue"
	"github.com/local/extractor/internal/record"
	"github.com/local/extractor/internal/storage"
	"github.com/local/extractor/internal/summarize"
	"github.com/local/extractor/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	records, err := record.NewRedisStore(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init record store")
	}
	defer records.Close()

	var resultCache cache.Cache
	if cfg.Cache.Backend == "memory" {
		resultCache = cache.NewMemory()
	} else {
		rc, err := cache.NewRedis(cfg.Queue.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init result cache")
		}
		resultCache = rc
	}

	ctx := context.Background()
	blobs, err := storage.NewS3Store(ctx, storage.S3Options{
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		Passphrase: cfg.Storage.Passphrase,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init blob store")
	}

	registry := notify.NewRegistry()

	ocr := extract.NewOCREngine(extract.OCROptions{
		Interpreter: cfg.OCR.Interpreter,
		Script:      cfg.OCR.Script,
		Timeout:     cfg.OCR.Timeout,
	})
	transcriber := extract.NewTranscriber(extract.TranscriberOptions{
		BaseURL:      cfg.Transcription.BaseURL,
		APIKey:       cfg.Transcription.APIKey,
		PollInterval: cfg.Transcription.PollInterval,
		MaxPolls:     cfg.Transcription.MaxPolls,
	})
	var summarizer summarize.Summarizer
	if cfg.Summarize.APIKey != "" {
		summarizer = summarize.NewAnthropic(cfg.Summarize.APIKey, summarize.WithModel(cfg.Summarize.Model))
	} else {
		log.Warn().Msg("no summarization api key configured, summaries disabled")
	}

	w := worker.New(worker.Config{
		Concurrency:      cfg.Worker.Concurrency,
		SummaryStyle:     summarize.Style(cfg.Worker.SummaryStyle),
		SummaryMaxTokens: cfg.Summarize.MaxTokens,
	}, rq, records, blobs, resultCache, registry, ocr, transcriber, summarizer)
	w.SetTextLayerProber(extract.NewTextLayer(cfg.OCR.MinTextChars))
	w.Start()

	svc := ingest.NewService(records, rq)
	svc.SetDocumentRetryPolicy(queue.RetryPolicy{
		MaxAttempts: cfg.Worker.DocMaxAttempts,
		BaseDelay:   cfg.Worker.RetryBaseDelay,
	})
	api := ingest.NewAPI(svc, registry, authFromEnv(), cfg.HTTP.MaxUploadMB, cfg.HTTP.EventBuffer)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(wr http.ResponseWriter, r *http.Request) {
		if err := rq.Ping(r.Context()); err != nil {
			wr.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		wr.WriteHeader(http.StatusOK)
	})

	go pollQueueDepths(rq)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := w.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("worker pool did not drain in time")
	}
	log.Info().Msg("shutdown complete")
}

// authFromEnv returns the session auth check. With AUTH_TOKEN set every
// client must present it; unset means any non-empty user id is accepted,
// which is only suitable behind a trusted gateway.
func authFromEnv() ingest.AuthFunc {
	token := os.Getenv("AUTH_TOKEN")
	return func(userID, presented string) bool {
		if token == "" {
			return userID != ""
		}
		return presented == token
	}
}

func pollQueueDepths(rq *queue.RedisQueue) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stream, delayed, dlq, err := rq.Depths(ctx)
		cancel()
		if err != nil {
			continue
		}
		metrics.SetQueueDepth("stream", stream)
		metrics.SetQueueDepth("delayed", delayed)
		metrics.SetQueueDepth("dlq", dlq)
	}
}
