package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateIndex_UnionsLexicalAndVectorHits(t *testing.T) {
	// Given: a lexical match and a vector-only neighbour
	chunks := []*Chunk{
		{ID: "lex", Content: "DeepEncoder reaches 16x compression", Embedding: []float32{0, 1, 0}},
		{ID: "vec", Content: "unrelated wording entirely", Embedding: []float32{1, 0, 0}},
		{ID: "far", Content: "library shelves and furniture", Embedding: []float32{0, 0, 1}},
	}
	ci, err := NewCandidateIndex(chunks)
	require.NoError(t, err)
	defer ci.Close()

	// When: querying with text matching "lex" and a vector near "vec"
	ids, err := ci.Candidates(context.Background(), "DeepEncoder compression", []float32{0.9, 0.1, 0}, 1)

	// Then: both sides contribute
	require.NoError(t, err)
	assert.Equal(t, []string{"lex", "vec"}, ids)
	assert.Equal(t, 3, ci.Len())
}

func TestCandidateIndex_LexicalOnlyWithoutVector(t *testing.T) {
	chunks := []*Chunk{
		{ID: "a", Content: "optical compression of text"},
		{ID: "b", Content: "shelves in a room"},
	}
	ci, err := NewCandidateIndex(chunks)
	require.NoError(t, err)
	defer ci.Close()

	ids, err := ci.Candidates(context.Background(), "compression", nil, 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestCandidateIndex_SkipsMismatchedDimensions(t *testing.T) {
	chunks := []*Chunk{
		{ID: "a", Content: "x", Embedding: []float32{1, 0}},
		{ID: "b", Content: "y", Embedding: []float32{1, 0, 0}},
	}
	ci, err := NewCandidateIndex(chunks)
	require.NoError(t, err)
	defer ci.Close()

	assert.Equal(t, 1, ci.Len())
	ids, err := ci.Candidates(context.Background(), "", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
