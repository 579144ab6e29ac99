package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	key, err := m.Put(ctx, "user-1", "doc.pdf", "application/pdf", []byte("content"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/user-1/"))

	data, err := m.Get(ctx, "user-1", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	require.NoError(t, m.Delete(ctx, "user-1", key))
	_, err = m.Get(ctx, "user-1", key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnerScoping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key, err := m.Put(ctx, "user-1", "doc.pdf", "application/pdf", []byte("secret"))
	require.NoError(t, err)

	_, err = m.Get(ctx, "user-2", key)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, m.Delete(ctx, "user-2", key), ErrNotOwner)

	// still present for the real owner
	data, err := m.Get(ctx, "user-1", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), data)
}

func TestPutTextSubdir(t *testing.T) {
	m := NewMemory()
	key, err := m.PutText(context.Background(), "summaries", "user-1", "doc.pdf.summary.txt", "the summary")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "summaries/user-1/"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeName("../../etc/passwd"))
	assert.Equal(t, "my_report_v2.pdf", sanitizeName("my report v2.pdf"))
	assert.Equal(t, "file", sanitizeName(""))
}

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte("sensitive document bytes")
	sealed, err := seal(plain, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sensitive")

	got, err := open(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := seal([]byte("data"), "right")
	require.NoError(t, err)
	_, err = open(sealed, "wrong")
	assert.Error(t, err)
}

func TestOpenTruncatedInput(t *testing.T) {
	_, err := open([]byte("short"), "pw")
	assert.Error(t, err)
	_, err = open(nil, "")
	assert.Error(t, err)
}
