package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OCREngine invokes the external OCR service as a subprocess:
//
//	<interpreter> <script> <input> <output.json> [language]
//
// The process reads the input file, writes a JSON result file, and exits
// non-zero on failure with diagnostics on stderr. The invocation runs under a
// hard wall-clock timeout (reference: 5 minutes).
type OCREngine struct {
	Interpreter string
	Script      string
	Timeout     time.Duration
	Env         []string
}

type OCROptions struct {
	Interpreter string
	Script      string
	Timeout     time.Duration
}

func NewOCREngine(opts OCROptions) *OCREngine {
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &OCREngine{
		Interpreter: opts.Interpreter,
		Script:      opts.Script,
		Timeout:     opts.Timeout,
		// Keep the engine single-threaded per invocation; the worker pool
		// provides the parallelism.
		Env: []string{"OMP_NUM_THREADS=1", "OPENBLAS_NUM_THREADS=1"},
	}
}

func (e *OCREngine) Name() string { return "ocr" }

// ocrOutput is the engine's JSON result file. Older script versions emit
// full_text instead of text.
type ocrOutput struct {
	Text           string  `json:"text"`
	FullText       string  `json:"full_text"`
	Confidence     float64 `json:"confidence"`
	Pages          int     `json:"pages"`
	PageResults    []struct {
		PageNumber int     `json:"page_number"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"page_results"`
	ProcessingTime int64  `json:"processing_time"`
	ModelVersion   string `json:"model_version"`
}

func (e *OCREngine) Extract(ctx context.Context, req Request) (Result, error) {
	if len(req.Data) == 0 {
		return Result{}, fmt.Errorf("ocr: no input bytes")
	}

	runID := uuid.NewString()
	ext := filepath.Ext(req.FileName)
	inputPath := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_input_%s%s", runID, ext))
	outputPath := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_output_%s.json", runID))
	if err := os.WriteFile(inputPath, req.Data, 0o600); err != nil {
		return Result{}, fmt.Errorf("write ocr input: %w", err)
	}
	defer func() {
		_ = os.Remove(inputPath)
		_ = os.Remove(outputPath)
	}()

	cctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	args := []string{e.Script, inputPath, outputPath}
	if req.Language != "" {
		args = append(args, req.Language)
	}
	cmd := exec.CommandContext(cctx, e.Interpreter, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)
	if cctx.Err() == context.DeadlineExceeded {
		log.Warn().Str("file", req.FileName).Dur("timeout", e.Timeout).Msg("ocr engine timed out")
		return Result{}, context.DeadlineExceeded
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return Result{}, &ExitError{Code: code, Stderr: trimStderr(stderr.String())}
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("ocr output file not found: %w", err)
	}
	var out ocrOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse ocr output: %w", err)
	}

	text := out.Text
	if text == "" {
		text = out.FullText
	}
	res := Result{
		Text:             text,
		Confidence:       out.Confidence,
		Language:         req.Language,
		PageCount:        out.Pages,
		ProcessingTimeMs: out.ProcessingTime,
		EngineVersion:    out.ModelVersion,
	}
	if res.PageCount == 0 {
		res.PageCount = 1
	}
	for i, p := range out.PageResults {
		n := p.PageNumber
		if n == 0 {
			n = i + 1
		}
		res.PageResults = append(res.PageResults, PageResult{PageNumber: n, Text: p.Text, Confidence: p.Confidence})
	}
	log.Debug().Str("file", req.FileName).Int("chars", len(text)).Dur("duration", dur).Msg("ocr engine finished")
	return res, nil
}

func trimStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return s
}
