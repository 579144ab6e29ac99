package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// TextLayer pulls the embedded text layer out of a PDF with MuPDF. Digitally
// produced PDFs carry their text already; running them through the OCR engine
// wastes minutes to reproduce what is sitting in the file. Scanned PDFs have
// no usable layer and fall through to OCR.
type TextLayer struct {
	// MinChars is the threshold below which the layer is considered absent
	// (a scanned document often yields a few stray glyphs).
	MinChars int
}

func NewTextLayer(minChars int) *TextLayer {
	if minChars <= 0 {
		minChars = 64
	}
	return &TextLayer{MinChars: minChars}
}

// Probe extracts per-page text from pdfData. ok is false when the document
// has no usable embedded layer and the caller should run OCR instead.
func (t *TextLayer) Probe(pdfData []byte) (Result, bool, error) {
	tmp, err := os.CreateTemp("", "textlayer-*.pdf")
	if err != nil {
		return Result{}, false, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(pdfData); err != nil {
		tmp.Close()
		return Result{}, false, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, false, err
	}

	doc, err := fitz.New(tmpPath)
	if err != nil {
		return Result{}, false, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var full strings.Builder
	pages := make([]PageResult, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("text layer read failed for page")
			continue
		}
		text = strings.TrimSpace(text)
		pages = append(pages, PageResult{PageNumber: i + 1, Text: text, Confidence: 1.0})
		if full.Len() > 0 {
			full.WriteString("\n\n")
		}
		full.WriteString(text)
	}

	text := full.String()
	if len(strings.TrimSpace(text)) < t.MinChars {
		log.Debug().Int("chars", len(text)).Str("file", filepath.Base(tmpPath)).Msg("no usable text layer, deferring to ocr")
		return Result{}, false, nil
	}
	return Result{
		Text:        text,
		Confidence:  1.0,
		PageCount:   doc.NumPage(),
		PageResults: pages,
	}, true, nil
}
