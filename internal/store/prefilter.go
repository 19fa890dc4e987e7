package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/coder/hnsw"
)

// CandidateIndex narrows a large corpus to the chunks worth exact scoring:
// the union of the best bleve (lexical) hits and the nearest HNSW (vector)
// neighbours. It is built once per corpus snapshot and is read-only after.
type CandidateIndex struct {
	lexical bleve.Index
	graph   *hnsw.Graph[uint64]
	keys    []string // HNSW key -> chunk ID
	dims    int
}

type candidateDoc struct {
	Content string `json:"content"`
}

// NewCandidateIndex indexes chunks in memory. Chunks whose embedding
// dimension differs from the first embedded chunk are left out of the
// vector side.
func NewCandidateIndex(chunks []*Chunk) (*CandidateIndex, error) {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = standard.Name

	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create lexical prefilter: %w", err)
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, candidateDoc{Content: c.Content}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	ci := &CandidateIndex{lexical: idx, graph: graph}
	skipped := 0
	for _, c := range chunks {
		if !c.HasEmbedding() {
			continue
		}
		if ci.dims == 0 {
			ci.dims = len(c.Embedding)
		}
		if len(c.Embedding) != ci.dims {
			skipped++
			continue
		}
		key := uint64(len(ci.keys))
		ci.keys = append(ci.keys, c.ID)
		graph.Add(hnsw.MakeNode(key, unitVector(c.Embedding)))
	}
	if skipped > 0 {
		slog.Warn("prefilter_dimension_mismatch",
			slog.Int("expected_dims", ci.dims),
			slog.Int("skipped", skipped))
	}

	return ci, nil
}

// Candidates returns up to 2*limit chunk IDs, sorted. queryVec may be nil,
// in which case only the lexical side contributes.
func (ci *CandidateIndex) Candidates(ctx context.Context, query string, queryVec []float32, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, 2*limit)

	if strings.TrimSpace(query) != "" {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		req := bleve.NewSearchRequest(mq)
		req.Size = limit

		res, err := ci.lexical.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("lexical prefilter failed: %w", err)
		}
		for _, hit := range res.Hits {
			seen[hit.ID] = struct{}{}
		}
	}

	if len(queryVec) > 0 && len(queryVec) == ci.dims && ci.graph.Len() > 0 {
		for _, node := range ci.graph.Search(unitVector(queryVec), limit) {
			seen[ci.keys[node.Key]] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of vectors in the HNSW side.
func (ci *CandidateIndex) Len() int {
	return ci.graph.Len()
}

func (ci *CandidateIndex) Close() error {
	return ci.lexical.Close()
}

func unitVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}
