package embed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*StaticEmbedder
	mu      sync.Mutex
	singles int
	batched []string
	err     error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.singles++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batched = append(c.batched, texts...)
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	c := NewCachedEmbedder(inner, 4)
	ctx := context.Background()

	first, err := c.Embed(ctx, "query")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.singles)
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16), err: errors.New("down")}
	c := NewCachedEmbedder(inner, 4)

	_, err := c.Embed(context.Background(), "q")
	require.Error(t, err)
	inner.err = nil
	_, err = c.Embed(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, 2, inner.singles)
}

func TestCachedEmbedder_BatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	c := NewCachedEmbedder(inner, 8)
	ctx := context.Background()
	_, err := c.Embed(ctx, "cached")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"cached", "fresh"})

	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, []string{"fresh"}, inner.batched)
}

func TestCachedEmbedder_Evicts(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	c := NewCachedEmbedder(inner, 1)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "a")
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "a")

	assert.Equal(t, 3, inner.singles)
	assert.Same(t, inner, c.Inner())
}
