package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency    int
	DocMaxAttempts int
	RetryBaseDelay time.Duration
	SummaryStyle   string
}

// OCRConfig defines the subprocess OCR engine.
type OCRConfig struct {
	Interpreter  string
	Script       string
	Timeout      time.Duration
	MinTextChars int
}

// TranscriptionConfig defines the remote transcription backend.
type TranscriptionConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
}

// SummarizeConfig defines the streaming summarization backend.
type SummarizeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// StorageConfig defines the blob store. Endpoint/AccessKey/SecretKey are for
// S3-compatible servers; leave empty for the default AWS chain.
type StorageConfig struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// CacheConfig selects the result cache backend: "redis" or "memory".
type CacheConfig struct {
	Backend string
}

// HTTPConfig defines the API surface.
type HTTPConfig struct {
	Addr          string
	MaxUploadMB   int
	EventBuffer   int
	ShutdownGrace time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging       LoggingConfig
	Axiom         AxiomConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	OCR           OCRConfig
	Transcription TranscriptionConfig
	Summarize     SummarizeConfig
	Storage       StorageConfig
	Cache         CacheConfig
	HTTP          HTTPConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/extractor.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_extractor",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:extract"),
		Group:        getEnv("QUEUE_GROUP", "workers:extract"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:    parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		DocMaxAttempts: parseInt(getEnv("DOC_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay: parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		SummaryStyle:   getEnv("SUMMARY_STYLE", "paragraph"),
	}

	cfg.OCR = OCRConfig{
		Interpreter:  getEnv("OCR_INTERPRETER", "python3"),
		Script:       getEnv("OCR_SCRIPT", "scripts/ocr_engine.py"),
		Timeout:      parseDuration(getEnv("OCR_TIMEOUT", "5m"), 5*time.Minute),
		MinTextChars: parseInt(getEnv("PDF_TEXT_LAYER_MIN_CHARS", "64"), 64),
	}

	cfg.Transcription = TranscriptionConfig{
		BaseURL:      getEnv("TRANSCRIPTION_BASE_URL", "https://api.assemblyai.com/v2"),
		APIKey:       getEnv("ASSEMBLYAI_API_KEY", ""),
		PollInterval: parseDuration(getEnv("TRANSCRIPTION_POLL_INTERVAL", "5s"), 5*time.Second),
		MaxPolls:     parseInt(getEnv("TRANSCRIPTION_MAX_POLLS", "120"), 120),
	}

	cfg.Summarize = SummarizeConfig{
		APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		Model:     getEnv("SUMMARY_MODEL", "claude-3-5-haiku-latest"),
		MaxTokens: parseInt(getEnv("SUMMARY_MAX_TOKENS", "1024"), 1024),
	}

	cfg.Storage = StorageConfig{
		Bucket:     getEnv("STORAGE_BUCKET", "extractor"),
		Region:     getEnv("STORAGE_REGION", ""),
		Endpoint:   getEnv("STORAGE_ENDPOINT", ""),
		AccessKey:  getEnv("STORAGE_ACCESS_KEY", ""),
		SecretKey:  getEnv("STORAGE_SECRET_KEY", ""),
		Passphrase: getEnv("STORAGE_PASSPHRASE", ""),
	}

	cfg.Cache = CacheConfig{
		Backend: getEnv("CACHE_BACKEND", "redis"),
	}

	cfg.HTTP = HTTPConfig{
		Addr:          getEnv("HTTP_ADDR", ":8080"),
		MaxUploadMB:   parseInt(getEnv("HTTP_MAX_UPLOAD_MB", "50"), 50),
		EventBuffer:   parseInt(getEnv("HTTP_EVENT_BUFFER", "64"), 64),
		ShutdownGrace: parseDuration(getEnv("HTTP_SHUTDOWN_GRACE", "15s"), 15*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
