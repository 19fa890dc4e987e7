package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := NewSQLiteChunkStore(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteChunkStore_PutAndAll_RoundTripsChunks(t *testing.T) {
	// Given: two chunks, one embedded
	s := newTestStore(t)
	ctx := context.Background()
	chunks := []*Chunk{
		{ID: "b", Content: "Table 3: benchmark", SourceKind: SourceTable, DocumentID: "paper"},
		{ID: "a", Content: "Abstract. We present", Embedding: []float32{0.25, -1.5, 3}, SourceKind: SourceBodyText, FigureID: "Figure 1", DocumentID: "paper"},
	}

	// When: storing and listing
	require.NoError(t, s.Put(ctx, chunks))
	got, err := s.All(ctx)

	// Then: chunks come back ordered by id with embeddings intact
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, []float32{0.25, -1.5, 3}, got[0].Embedding)
	assert.Equal(t, "Figure 1", got[0].FigureID)
	assert.Nil(t, got[1].Embedding)
	assert.Equal(t, SourceTable, got[1].SourceKind)
}

func TestSQLiteChunkStore_PutReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []*Chunk{{ID: "a", Content: "old"}}))
	require.NoError(t, s.Put(ctx, []*Chunk{{ID: "a", Content: "new"}}))

	c, err := s.Get(ctx, "a")

	require.NoError(t, err)
	assert.Equal(t, "new", c.Content)
	assert.Equal(t, SourceBodyText, c.SourceKind)
}

func TestSQLiteChunkStore_VersionChangesOnWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v0, err := s.Version(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, []*Chunk{{ID: "a", Content: "x"}}))
	v1, _ := s.Version(ctx)
	require.NoError(t, s.Delete(ctx, []string{"a"}))
	v2, _ := s.Version(ctx)

	assert.Empty(t, v0)
	assert.NotEmpty(t, v1)
	assert.NotEqual(t, v1, v2)
}

func TestSQLiteChunkStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")

	assert.True(t, errors.Is(err, ErrChunkNotFound))
}

func TestSQLiteChunkStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []*Chunk{
		{ID: "a", Content: "x", Embedding: []float32{1, 0}, DocumentID: "d1"},
		{ID: "b", Content: "y", SourceKind: SourceFigureCaption, DocumentID: "d1"},
		{ID: "c", Content: "z", DocumentID: "d2"},
	}))

	st, err := s.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 1, st.Embedded)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 2, st.Dimensions)
	assert.Equal(t, 2, st.BySource[string(SourceBodyText)])
	assert.Equal(t, 1, st.BySource[string(SourceFigureCaption)])
	assert.NotEmpty(t, st.Version)
}

func TestSQLiteChunkStore_InMemory(t *testing.T) {
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), []*Chunk{{ID: "a", Content: "x"}}))
	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "", s.Path())
}

func TestSQLiteChunkStore_ClosedStoreErrors(t *testing.T) {
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.All(context.Background())
	assert.Error(t, err)
}

func TestVectorCodec_RejectsTruncatedBlob(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	v, err := decodeVector(encodeVector([]float32{1.5, -2}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, v)
	assert.Nil(t, encodeVector(nil))
}
