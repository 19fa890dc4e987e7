// Package integration exercises the store, session, engine, watcher and
// telemetry packages together.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	"github.com/gravis-app/ragcore/internal/session"
	"github.com/gravis-app/ragcore/internal/store"
)

const dims = 64

var topics = []string{
	"optical compression of scanned pages into vision tokens",
	"the DeepEncoder keeps activation memory low with windowed attention",
	"tokenizer vocabulary for multilingual documents",
	"layout detection of tables and figures",
	"latency of the decoder on a single accelerator",
	"training data mixture of charts and chemical formulas",
}

// paperCorpus returns one chunk per topic plus filler chunks, embedded
// with the static embedder.
func paperCorpus(t *testing.T, filler int) []*store.Chunk {
	t.Helper()
	emb := embed.NewStaticEmbedder(dims)
	var chunks []*store.Chunk
	for i, topic := range topics {
		chunks = append(chunks, &store.Chunk{
			ID:         fmt.Sprintf("paper#%02d", i),
			Content:    fmt.Sprintf("Section %d discusses %s.", i+1, topic),
			SourceKind: store.SourceBodyText,
			DocumentID: "paper",
		})
	}
	for i := range filler {
		chunks = append(chunks, &store.Chunk{
			ID:         fmt.Sprintf("filler#%03d", i),
			Content:    fmt.Sprintf("Appendix paragraph %d restates unrelated housekeeping details.", i),
			SourceKind: store.SourceBodyText,
			DocumentID: "appendix",
		})
	}
	for _, c := range chunks {
		var err error
		c.Embedding, err = emb.Embed(context.Background(), c.Content)
		require.NoError(t, err)
	}
	return chunks
}

func openStore(t *testing.T, path string) *store.SQLiteChunkStore {
	t.Helper()
	st, err := store.NewSQLiteChunkStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "corpus.db")
}

func loadedSession(t *testing.T, st *store.SQLiteChunkStore, sc config.SearchConfig) *session.Session {
	t.Helper()
	sess := session.New(st, session.OptionsFromConfig(sc))
	_, err := sess.Reload(context.Background())
	require.NoError(t, err)
	return sess
}
