package cmd

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravis-app/ragcore/internal/config"
	rerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/output"
	"github.com/gravis-app/ragcore/internal/store"
)

// flakyCorpus fails its first failures writes with err.
type flakyCorpus struct {
	failures int
	err      error
	puts     int
	deletes  int
	stored   []*store.Chunk
}

func (f *flakyCorpus) All(context.Context) ([]*store.Chunk, error) { return f.stored, nil }

func (f *flakyCorpus) Put(_ context.Context, chunks []*store.Chunk) error {
	f.puts++
	if f.puts <= f.failures {
		return f.err
	}
	f.stored = append(f.stored, chunks...)
	return nil
}

func (f *flakyCorpus) Delete(context.Context, []string) error {
	f.deletes++
	if f.deletes <= f.failures {
		return f.err
	}
	return nil
}

func fastIngestRetry(t *testing.T) {
	t.Helper()
	prev := ingestRetry
	ingestRetry = rerrors.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	t.Cleanup(func() { ingestRetry = prev })
}

func TestWriteChunks_RetriesWhileLocked(t *testing.T) {
	fastIngestRetry(t)
	// Given: a corpus that is locked for two attempts
	locked := rerrors.New(rerrors.ErrCodeStoreLocked, "database is busy", nil)
	w := &flakyCorpus{failures: 2, err: locked}

	// When: writing chunks
	err := writeChunks(context.Background(), w, []*store.Chunk{{ID: "a"}})

	// Then: the third attempt lands
	require.NoError(t, err)
	assert.Equal(t, 3, w.puts)
	assert.Len(t, w.stored, 1)
}

func TestWriteChunks_StoreFailureIsNotRetried(t *testing.T) {
	fastIngestRetry(t)
	w := &flakyCorpus{failures: 5, err: rerrors.StoreError("corpus write failed", nil)}

	err := writeChunks(context.Background(), w, []*store.Chunk{{ID: "a"}})

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeStoreFailed, rerrors.GetCode(err))
	assert.Equal(t, 1, w.puts)
}

func TestPruneDocuments_RetriesDelete(t *testing.T) {
	fastIngestRetry(t)
	// Given: a stored document with a chunk the new version dropped
	w := &flakyCorpus{
		failures: 1,
		err:      rerrors.New(rerrors.ErrCodeStoreLocked, "database is busy", nil),
		stored: []*store.Chunk{
			{ID: "paper#1", DocumentID: "paper"},
			{ID: "paper#2", DocumentID: "paper"},
			{ID: "other#1", DocumentID: "other"},
		},
	}

	// When: pruning against the new version
	removed, err := pruneDocuments(context.Background(), w, []*store.Chunk{{ID: "paper#1", DocumentID: "paper"}})

	// Then: the stale chunk is removed after one retry
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, w.deletes)
}

func TestEmbedMissing_ReportsBatchProgress(t *testing.T) {
	// Given: 70 chunks without embeddings and a static embedder
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	var chunks []*store.Chunk
	for i := 0; i < 70; i++ {
		chunks = append(chunks, &store.Chunk{ID: fmt.Sprintf("c%02d", i), Content: fmt.Sprintf("chunk text %d", i)})
	}
	chunks[0].Embedding = []float32{1, 0}
	var buf bytes.Buffer

	// When: embedding the missing ones
	n, err := embedMissing(context.Background(), cfg, chunks, output.NewProgress(&buf, "embedding", true))

	// Then: every batch is reported and every chunk has a vector
	require.NoError(t, err)
	assert.Equal(t, 69, n)
	assert.Equal(t, "  embedding 32/69\n  embedding 64/69\n  embedding 69/69\n", buf.String())
	for _, c := range chunks {
		assert.True(t, c.HasEmbedding(), c.ID)
	}
}
