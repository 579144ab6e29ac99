package summarize

import "context"

// Style selects the shape of the generated summary.
type Style string

const (
	StyleBulletPoints Style = "bullet-points"
	StyleParagraph    Style = "paragraph"
	StyleExecutive    Style = "executive"
)

type Request struct {
	Text      string
	Language  string
	Style     Style
	MaxTokens int
}

// Summarizer streams a summary of the given text. fn is invoked once per
// text chunk as it arrives; returning an error from fn aborts the stream.
type Summarizer interface {
	Stream(ctx context.Context, req Request, fn func(chunk string) error) error
}
