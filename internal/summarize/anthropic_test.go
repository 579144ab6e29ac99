package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseBody(chunks ...string) string {
	var b strings.Builder
	b.WriteString("event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", c)
	}
	b.WriteString("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	return b.String()
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody("The ", "document ", "says hello."))
	}))
	defer srv.Close()

	a := NewAnthropic("key", WithBaseURL(srv.URL))
	var got []string
	err := a.Stream(context.Background(), Request{Text: "long text", Style: StyleParagraph}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "document ", "says hello."}, got)
}

func TestStreamCallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody("a", "b", "c"))
	}))
	defer srv.Close()

	a := NewAnthropic("key", WithBaseURL(srv.URL))
	calls := 0
	err := a.Stream(context.Background(), Request{Text: "t"}, func(chunk string) error {
		calls++
		return errors.New("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestStreamRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAnthropic("key", WithBaseURL(srv.URL))
	err := a.Stream(context.Background(), Request{Text: "t"}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"try later\"}}\n\n")
	}))
	defer srv.Close()

	a := NewAnthropic("key", WithBaseURL(srv.URL))
	err := a.Stream(context.Background(), Request{Text: "t"}, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestStreamMissingKey(t *testing.T) {
	a := NewAnthropic("")
	err := a.Stream(context.Background(), Request{Text: "t"}, func(string) error { return nil })
	assert.Error(t, err)
}

func TestSystemPromptStyles(t *testing.T) {
	assert.Contains(t, systemPrompt(StyleBulletPoints, ""), "bullet points")
	assert.Contains(t, systemPrompt(StyleExecutive, ""), "executive summary")
	assert.Contains(t, systemPrompt(StyleParagraph, ""), "paragraph")
	assert.Contains(t, systemPrompt("", ""), "paragraph")
	assert.Contains(t, systemPrompt(StyleParagraph, "es"), "(es)")
	assert.NotContains(t, systemPrompt(StyleParagraph, "en"), "(en)")
}
