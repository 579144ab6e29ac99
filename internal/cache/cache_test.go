package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/extractor/internal/extract"
)

func TestMemoryGetMissIsNotAnError(t *testing.T) {
	c := NewMemory()
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPutGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	res := extract.Result{Text: "hello", Confidence: 0.9, PageCount: 2}
	require.NoError(t, c.Put(ctx, "fp-1", res))

	got, ok, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res, got)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryInvalidateIdempotent(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "fp-1", extract.Result{Text: "x"}))
	require.NoError(t, c.Invalidate(ctx, "fp-1"))
	require.NoError(t, c.Invalidate(ctx, "fp-1"), "removing an absent key is a no-op")

	_, ok, err := c.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLastWriterWins(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "fp", extract.Result{Text: "first"}))
	require.NoError(t, c.Put(ctx, "fp", extract.Result{Text: "second"}))
	got, ok, _ := c.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, "second", got.Text)
}
