package summarize

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	anthropicVersion = "2023-06-01"
)

// ErrRateLimited is returned when the API answers 429.
var ErrRateLimited = errors.New("summarize: rate limited")

// Anthropic streams summaries through the Messages API with SSE enabled.
type Anthropic struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

type AnthropicOption func(*Anthropic)

func WithModel(model string) AnthropicOption {
	return func(a *Anthropic) { a.model = model }
}

func WithBaseURL(url string) AnthropicOption {
	return func(a *Anthropic) { a.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.http = c }
}

func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		http:    &http.Client{Timeout: 2 * time.Minute},
		baseURL: "https://api.anthropic.com",
		apiKey:  apiKey,
		model:   defaultModel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type messageReq struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) Stream(ctx context.Context, req Request, fn func(chunk string) error) error {
	if a.apiKey == "" {
		return errors.New("summarize: missing api key")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := messageReq{
		Model:     a.model,
		MaxTokens: maxTokens,
		Stream:    true,
		System:    systemPrompt(req.Style, req.Language),
		Messages:  []message{{Role: "user", Content: req.Text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("summarize: anthropic status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return readStream(resp.Body, fn)
}

func readStream(body io.Reader, fn func(chunk string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if err := fn(ev.Delta.Text); err != nil {
					return err
				}
			}
		case "error":
			return fmt.Errorf("summarize: stream error %s: %s", ev.Error.Type, ev.Error.Message)
		case "message_stop":
			return nil
		}
	}
	return scanner.Err()
}

func systemPrompt(style Style, language string) string {
	var b strings.Builder
	switch style {
	case StyleBulletPoints:
		b.WriteString("Summarize the following document as concise bullet points covering the key facts and conclusions.")
	case StyleExecutive:
		b.WriteString("Write an executive summary of the following document: two or three short paragraphs aimed at a decision maker, leading with the main finding.")
	default:
		b.WriteString("Summarize the following document in a single clear paragraph.")
	}
	if language != "" && language != "en" {
		fmt.Fprintf(&b, " Respond in the same language as the document (%s).", language)
	}
	return b.String()
}
