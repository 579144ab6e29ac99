package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestOCREngineParsesOutput(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
cat > "$2" <<'EOF'
{"text":"extracted words","confidence":0.87,"pages":2,"page_results":[{"page_number":1,"text":"p1","confidence":0.9},{"text":"p2","confidence":0.8}],"processing_time":42,"model_version":"v3"}
EOF
`)
	e := NewOCREngine(OCROptions{Interpreter: "sh", Script: script, Timeout: 10 * time.Second})
	res, err := e.Extract(context.Background(), Request{Data: []byte("img"), FileName: "scan.jpg", Language: "es"})
	require.NoError(t, err)
	assert.Equal(t, "extracted words", res.Text)
	assert.InDelta(t, 0.87, res.Confidence, 1e-9)
	assert.Equal(t, 2, res.PageCount)
	require.Len(t, res.PageResults, 2)
	assert.Equal(t, 1, res.PageResults[0].PageNumber)
	assert.Equal(t, 2, res.PageResults[1].PageNumber, "missing page numbers filled positionally")
	assert.EqualValues(t, 42, res.ProcessingTimeMs)
	assert.Equal(t, "v3", res.EngineVersion)
	assert.Equal(t, "es", res.Language)
}

func TestOCREngineFallsBackToFullText(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
printf '{"full_text":"legacy text","confidence":0.5}' > "$2"
`)
	e := NewOCREngine(OCROptions{Interpreter: "sh", Script: script, Timeout: 10 * time.Second})
	res, err := e.Extract(context.Background(), Request{Data: []byte("img"), FileName: "scan.png"})
	require.NoError(t, err)
	assert.Equal(t, "legacy text", res.Text)
	assert.Equal(t, 1, res.PageCount, "page count defaults to one")
}

func TestOCREngineNonZeroExit(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo "model load failed" >&2
exit 3
`)
	e := NewOCREngine(OCROptions{Interpreter: "sh", Script: script, Timeout: 10 * time.Second})
	_, err := e.Extract(context.Background(), Request{Data: []byte("img"), FileName: "scan.jpg"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "model load failed")
	assert.True(t, IsTransient(err))
}

func TestOCREngineTimeout(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
sleep 5
`)
	e := NewOCREngine(OCROptions{Interpreter: "sh", Script: script, Timeout: 100 * time.Millisecond})
	_, err := e.Extract(context.Background(), Request{Data: []byte("img"), FileName: "scan.jpg"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOCREngineRejectsEmptyInput(t *testing.T) {
	e := NewOCREngine(OCROptions{Interpreter: "sh", Script: "unused.sh"})
	_, err := e.Extract(context.Background(), Request{})
	assert.Error(t, err)
}
