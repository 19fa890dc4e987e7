package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	"github.com/gravis-app/ragcore/internal/mcp"
	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/session"
	"github.com/gravis-app/ragcore/internal/store"
)

func newCorpusServer(t *testing.T) *mcp.Server {
	t.Helper()
	ctx := context.Background()

	chunks, err := store.LoadCorpusFile(filepath.Join("testdata", "corpus.yaml"))
	require.NoError(t, err)

	emb := embed.NewStaticEmbedder(64)
	for _, c := range chunks {
		c.Embedding, err = emb.Embed(ctx, c.Content)
		require.NoError(t, err)
	}

	st, err := store.NewSQLiteChunkStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Put(ctx, chunks))

	cfg := config.NewConfig()
	sess := session.New(st, session.OptionsFromConfig(cfg.Search))
	_, err = sess.Reload(ctx)
	require.NoError(t, err)

	srv, err := mcp.NewServer(search.NewEngine(search.WithEmbedder(emb)), sess, emb, cfg)
	require.NoError(t, err)
	return srv
}

func TestLoadQueries(t *testing.T) {
	cfg, err := LoadQueries(filepath.Join("testdata", "queries.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Tier1, 4)
	require.Len(t, cfg.Tier2, 1)
	require.Len(t, cfg.Negative, 2)

	assert.Equal(t, 1, cfg.Tier1[0].Tier)
	assert.Equal(t, defaultTopK, cfg.Tier1[0].TopK)
	assert.Equal(t, 1, cfg.Tier1[1].TopK)
	assert.Equal(t, 2, cfg.Tier2[0].Tier)
	assert.Equal(t, 0, cfg.Negative[0].Tier)
}

func TestLoadQueries_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadQueries(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	noID := filepath.Join(dir, "noid.yaml")
	require.NoError(t, os.WriteFile(noID, []byte("tier1:\n  - query: x\n"), 0o644))
	_, err = LoadQueries(noID)
	assert.ErrorContains(t, err, "has no id")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tier1: [unclosed"), 0o644))
	_, err = LoadQueries(bad)
	assert.Error(t, err)
}

func TestValidator_CorpusSuite(t *testing.T) {
	// Given the reference corpus behind the MCP server
	srv := newCorpusServer(t)
	cfg, err := LoadQueries(filepath.Join("testdata", "queries.yaml"))
	require.NoError(t, err)

	// When every check runs
	res := NewValidator(srv).RunAll(context.Background(), cfg)

	// Then all gating checks pass
	for _, tr := range append(append([]TestResult{}, res.Tier1...), res.Negative...) {
		assert.True(t, tr.Passed, "%s: got %v leaked %v err %q", tr.Spec.ID, tr.TopResults, tr.Leaked, tr.Error)
	}
	assert.True(t, res.Passed())
	assert.Equal(t, 7, res.Chunks)
	assert.Equal(t, "static-64", res.Embedder)
	assert.NotEmpty(t, res.SnapshotID)
	assert.Len(t, res.Tier2, 1)
}

type fakeSearcher struct {
	results []string
	err     error
}

func (f fakeSearcher) Search(_ context.Context, in mcp.SearchInput) (mcp.SearchOutput, error) {
	if f.err != nil {
		return mcp.SearchOutput{}, f.err
	}
	out := mcp.SearchOutput{Query: in.Query}
	for _, id := range f.results {
		out.Results = append(out.Results, mcp.ResultOutput{ChunkID: id})
	}
	return out, nil
}

func (f fakeSearcher) Status(context.Context) mcp.CorpusStatusOutput {
	return mcp.CorpusStatusOutput{Ready: true, Chunks: len(f.results)}
}

func TestValidator_RunQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("match position", func(t *testing.T) {
		v := NewValidator(fakeSearcher{results: []string{"a", "b", "c"}})
		tr := v.RunQuery(ctx, QuerySpec{ID: "q", Expected: []string{"c", "b"}, TopK: 3, Tier: 1})
		assert.True(t, tr.Passed)
		assert.Equal(t, 1, tr.MatchedAt)
	})

	t.Run("leak fails even when expected is found", func(t *testing.T) {
		v := NewValidator(fakeSearcher{results: []string{"a", "refs"}})
		tr := v.RunQuery(ctx, QuerySpec{ID: "q", Expected: []string{"a"}, Excluded: []string{"refs"}, Tier: 1})
		assert.False(t, tr.Passed)
		assert.Equal(t, []string{"refs"}, tr.Leaked)
	})

	t.Run("errors pass only negative checks", func(t *testing.T) {
		v := NewValidator(fakeSearcher{err: errors.New("boom")})
		assert.False(t, v.RunQuery(ctx, QuerySpec{ID: "q", Tier: 1}).Passed)
		neg := v.RunQuery(ctx, QuerySpec{ID: "n", Tier: 0})
		assert.True(t, neg.Passed)
		assert.Equal(t, "boom", neg.Error)
	})
}

func TestValidationResult_Passed(t *testing.T) {
	r := &ValidationResult{
		Tier1:     make([]TestResult, 2),
		Tier1Pass: 2,
		Tier2:     make([]TestResult, 1),
		Tier2Pass: 0,
	}
	assert.True(t, r.Passed())

	r.Tier1Pass = 1
	assert.False(t, r.Passed())
}

func TestCheckExpected(t *testing.T) {
	found, pos := checkExpected([]string{"x", "y"}, []string{"y"})
	assert.True(t, found)
	assert.Equal(t, 1, pos)

	found, pos = checkExpected(nil, []string{"y"})
	assert.False(t, found)
	assert.Equal(t, -1, pos)
}
