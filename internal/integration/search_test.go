package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/store"
)

func TestIntegration_IngestAndSearch_FindsResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a file-backed corpus
	ctx := context.Background()
	st := openStore(t, tempDB(t))
	require.NoError(t, st.Put(ctx, paperCorpus(t, 10)))
	cfg := config.NewConfig()
	sess := loadedSession(t, st, cfg.Search)
	engine := search.NewEngine(search.WithEmbedder(embed.NewStaticEmbedder(dims)))

	// When: searching for a topic
	res, err := engine.Search(ctx, search.Request{Query: "DeepEncoder activation memory"}, sess.Current(), cfg.Search)

	// Then: the matching chunk ranks first on all three signals
	require.NoError(t, err)
	require.NotEmpty(t, res.Entries)
	assert.Equal(t, "paper#01", res.Entries[0].ChunkID)
	assert.False(t, res.Diagnostics.DenseUnavailable)
	assert.Equal(t, sess.Current().ID(), res.Diagnostics.SnapshotID)
	assert.Len(t, res.Entries, cfg.Search.FinalContextK)
}

func TestIntegration_Prefilter_MatchesExactScoring(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: the same corpus with and without the candidate prefilter
	ctx := context.Background()
	st := openStore(t, tempDB(t))
	require.NoError(t, st.Put(ctx, paperCorpus(t, 40)))

	exact := config.NewConfig().Search
	filtered := exact
	filtered.PrefilterLimit = 10

	exactSess := loadedSession(t, st, exact)
	filteredSess := loadedSession(t, st, filtered)
	require.Nil(t, exactSess.Current().Prefilter())
	require.NotNil(t, filteredSess.Current().Prefilter())

	engine := search.NewEngine(search.WithEmbedder(embed.NewStaticEmbedder(dims)))
	req := search.Request{Query: "layout detection of tables and figures"}

	// When: both run the same query
	a, err := engine.Search(ctx, req, exactSess.Current(), exact)
	require.NoError(t, err)
	b, err := engine.Search(ctx, req, filteredSess.Current(), filtered)
	require.NoError(t, err)

	// Then: the best chunk agrees and the prefilter scored fewer candidates
	require.NotEmpty(t, a.Entries)
	require.NotEmpty(t, b.Entries)
	assert.Equal(t, "paper#03", a.Entries[0].ChunkID)
	assert.Equal(t, a.Entries[0].ChunkID, b.Entries[0].ChunkID)
	assert.Less(t, b.Diagnostics.Candidates, a.Diagnostics.Candidates)
}

func TestIntegration_SearchAfterDelete_ExcludesDeleted(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a loaded corpus
	ctx := context.Background()
	st := openStore(t, tempDB(t))
	require.NoError(t, st.Put(ctx, paperCorpus(t, 0)))
	cfg := config.NewConfig()
	sess := loadedSession(t, st, cfg.Search)
	old := sess.Current()

	// When: a chunk is deleted and the session reloads
	require.NoError(t, st.Delete(ctx, []string{"paper#01"}))
	changed, err := sess.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	// Then: new queries no longer see it, the old snapshot still does
	res, err := search.NewEngine().Search(ctx, search.Request{Query: "DeepEncoder activation memory"}, sess.Current(), cfg.Search)
	require.NoError(t, err)
	for _, e := range res.Entries {
		assert.NotEqual(t, "paper#01", e.ChunkID)
	}
	_, ok := old.Chunk("paper#01")
	assert.True(t, ok)
}

func TestIntegration_EmptyCorpus_ReturnsNoResults(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, "")
	cfg := config.NewConfig()
	sess := loadedSession(t, st, cfg.Search)

	res, err := search.NewEngine().Search(ctx, search.Request{Query: "anything at all"}, sess.Current(), cfg.Search)

	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.True(t, res.Diagnostics.EmptyCorpus)
}

func TestIntegration_ConcurrentSearchesDuringReload_NoRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a session being reloaded while queries run
	ctx := context.Background()
	st := openStore(t, tempDB(t))
	corpus := paperCorpus(t, 5)
	require.NoError(t, st.Put(ctx, corpus))
	cfg := config.NewConfig()
	sess := loadedSession(t, st, cfg.Search)
	engine := search.NewEngine(search.WithEmbedder(embed.NewCachedEmbedder(embed.NewStaticEmbedder(dims), 16)))

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 5 {
				snap := sess.Current()
				res, err := engine.Search(ctx, search.Request{Query: topics[i%len(topics)]}, snap, cfg.Search)
				if err != nil {
					errs <- err
					return
				}
				// Every entry comes from the snapshot the query started with.
				for _, e := range res.Entries {
					if _, ok := snap.Chunk(e.ChunkID); !ok {
						errs <- assert.AnError
						return
					}
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 3 {
			extra := &store.Chunk{ID: "extra#" + string(rune('a'+i)), Content: "late addition about decoders", SourceKind: store.SourceBodyText}
			if err := st.Put(ctx, []*store.Chunk{extra}); err != nil {
				errs <- err
				return
			}
			if _, err := sess.Reload(ctx); err != nil {
				errs <- err
				return
			}
		}
	}()

	wg.Wait()
	close(errs)

	// Then: no query failed
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, len(corpus)+3, sess.Current().Len())
}
