package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscriptionServer(t *testing.T, pollsUntilDone int32, finalStatus string) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio-1"})
	})
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example/audio-1", body["audio_url"])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tr-1"})
	})
	mux.HandleFunc("/transcript/tr-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < pollsUntilDone {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tr-1", "status": "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "tr-1", "status": finalStatus, "text": "hello spoken world",
			"language_code": "es", "language_confidence": 0.97, "error": "audio too noisy",
		})
	})
	return httptest.NewServer(mux)
}

func testTranscriber(url string) *Transcriber {
	return NewTranscriber(TranscriberOptions{
		BaseURL:      url,
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		MaxPolls:     10,
	})
}

func TestTranscriberPollsUntilCompleted(t *testing.T) {
	srv := newTranscriptionServer(t, 3, "completed")
	defer srv.Close()

	res, err := testTranscriber(srv.URL).Extract(context.Background(), Request{
		Data: []byte("audio bytes"), FileName: "talk.mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello spoken world", res.Text)
	assert.Equal(t, "es", res.DetectedLanguage)
	assert.InDelta(t, 0.97, res.LanguageConfidence, 1e-9)
	assert.NotEmpty(t, res.Raw)
}

func TestTranscriberBackendError(t *testing.T) {
	srv := newTranscriptionServer(t, 1, "error")
	defer srv.Close()

	_, err := testTranscriber(srv.URL).Extract(context.Background(), Request{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio too noisy")
}

func TestTranscriberPollCeiling(t *testing.T) {
	srv := newTranscriptionServer(t, 100, "completed")
	defer srv.Close()

	_, err := testTranscriber(srv.URL).Extract(context.Background(), Request{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout after 10 polls")
}

func TestTranscriberRequiresAPIKey(t *testing.T) {
	tr := NewTranscriber(TranscriberOptions{BaseURL: "http://unused"})
	_, err := tr.Extract(context.Background(), Request{Data: []byte("x")})
	assert.Error(t, err)
}
