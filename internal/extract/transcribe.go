package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Transcriber drives the external speech-to-text API. The call is two-phase:
// upload the raw audio, submit a transcript job, then poll until it reaches a
// terminal status. The polling ceiling (attempts x interval, reference 120 x
// 5s) bounds the whole invocation, which is why audio jobs get no queue-level
// retries on top.
type Transcriber struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
}

type TranscriberOptions struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
}

func NewTranscriber(opts TranscriberOptions) *Transcriber {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.assemblyai.com/v2"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 120
	}
	return &Transcriber{
		http:         &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
	}
}

func (t *Transcriber) Name() string { return "transcription" }

func (t *Transcriber) Extract(ctx context.Context, req Request) (Result, error) {
	if t.apiKey == "" {
		return Result{}, errors.New("transcription api key not configured")
	}

	audioURL, err := t.upload(ctx, req.Data)
	if err != nil {
		return Result{}, fmt.Errorf("upload audio: %w", err)
	}
	log.Debug().Str("file", req.FileName).Msg("audio uploaded to transcription backend")

	id, err := t.submit(ctx, audioURL, req.Language)
	if err != nil {
		return Result{}, fmt.Errorf("submit transcript: %w", err)
	}
	log.Info().Str("transcript_id", id).Str("file", req.FileName).Msg("transcription submitted")

	return t.waitForTranscript(ctx, id)
}

func (t *Transcriber) upload(ctx context.Context, data []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", t.apiKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := t.do(httpReq, &out); err != nil {
		return "", err
	}
	return out.UploadURL, nil
}

func (t *Transcriber) submit(ctx context.Context, audioURL, language string) (string, error) {
	payload := map[string]any{"audio_url": audioURL}
	if language != "" {
		payload["language_code"] = MapLanguageCode(language)
	} else {
		payload["language_detection"] = true
	}
	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	var out struct {
		ID string `json:"id"`
	}
	if err := t.do(httpReq, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type transcriptStatus struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	Text               string  `json:"text"`
	LanguageCode       string  `json:"language_code"`
	LanguageConfidence float64 `json:"language_confidence"`
	Error              string  `json:"error"`
}

func (t *Transcriber) waitForTranscript(ctx context.Context, id string) (Result, error) {
	for attempt := 1; attempt <= t.maxPolls; attempt++ {
		st, err := t.poll(ctx, id)
		if err != nil {
			var backendErr *BackendError
			if errors.As(err, &backendErr) && backendErr.Status == http.StatusNotFound {
				// Transcript not visible yet, keep polling.
			} else {
				return Result{}, err
			}
		} else {
			switch st.Status {
			case "completed":
				raw, _ := json.Marshal(st)
				return Result{
					Text:               st.Text,
					Confidence:         st.LanguageConfidence,
					DetectedLanguage:   st.LanguageCode,
					LanguageConfidence: st.LanguageConfidence,
					Raw:                string(raw),
				}, nil
			case "error":
				if st.Error != "" {
					return Result{}, fmt.Errorf("transcription failed: %s", st.Error)
				}
				return Result{}, errors.New("transcription failed on backend")
			}
			log.Debug().Str("transcript_id", id).Str("status", st.Status).
				Int("attempt", attempt).Int("max", t.maxPolls).Msg("transcription pending")
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
	return Result{}, fmt.Errorf("transcription timeout after %d polls", t.maxPolls)
}

func (t *Transcriber) poll(ctx context.Context, id string) (transcriptStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return transcriptStatus{}, err
	}
	httpReq.Header.Set("Authorization", t.apiKey)
	var st transcriptStatus
	if err := t.do(httpReq, &st); err != nil {
		return transcriptStatus{}, err
	}
	return st, nil
}

func (t *Transcriber) do(req *http.Request, out any) error {
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var languageCodes = map[string]string{
	"es": "es", "en": "en", "de": "de", "fr": "fr", "it": "it", "pt": "pt",
	"spa": "es", "eng": "en", "deu": "de", "fra": "fr", "ita": "it", "por": "pt",
}

// MapLanguageCode normalizes declared language codes to the backend's
// two-letter form, defaulting to English for anything unknown.
func MapLanguageCode(language string) string {
	if code, ok := languageCodes[strings.ToLower(language)]; ok {
		return code
	}
	return "en"
}
