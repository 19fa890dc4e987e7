package mcp

import (
	"fmt"

	"github.com/gravis-app/ragcore/internal/search"
)

const (
	defaultLimit = 8
	maxLimit     = 50
)

// SearchInput is the search tool input.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"the question or keywords to retrieve context for"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of chunks to return, default 8"`
	Explain bool   `json:"explain,omitempty" jsonschema:"include per-chunk signals and pipeline diagnostics"`
}

// SearchOutput is the search tool output.
type SearchOutput struct {
	Query    string         `json:"query"`
	Results  []ResultOutput `json:"results" jsonschema:"ranked chunks, best first"`
	Warnings []string       `json:"warnings,omitempty" jsonschema:"degradations such as lexical-only ranking"`

	Diagnostics *search.Diagnostics `json:"diagnostics,omitempty"`
}

// ResultOutput is one ranked chunk.
type ResultOutput struct {
	ChunkID        string  `json:"chunk_id"`
	Score          float64 `json:"score" jsonschema:"final relevance score"`
	Content        string  `json:"content"`
	SourceKind     string  `json:"source_kind"`
	FigureID       string  `json:"figure_id,omitempty"`
	NumericMatched *bool   `json:"numeric_matched,omitempty" jsonschema:"whether the chunk satisfies the numeric constraint in the query"`

	Signals *SignalsOutput `json:"signals,omitempty"`
}

// SignalsOutput carries the per-stage scores when explain is set.
type SignalsOutput struct {
	Dense             float64 `json:"dense"`
	Sparse            float64 `json:"sparse"`
	Keyword           float64 `json:"keyword"`
	Hybrid            float64 `json:"hybrid"`
	SectionAdjustment float64 `json:"section_adjustment"`
	Discounted        bool    `json:"discounted,omitempty"`
}

// CorpusStatusInput takes no parameters.
type CorpusStatusInput struct{}

// CorpusStatusOutput describes the loaded corpus and embedder.
type CorpusStatusOutput struct {
	Ready      bool           `json:"ready"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	Version    string         `json:"corpus_version,omitempty"`
	BuiltAt    string         `json:"built_at,omitempty"`
	Chunks     int            `json:"chunks"`
	Embedded   int            `json:"embedded"`
	BySource   map[string]int `json:"by_source"`
	Prefilter  bool           `json:"prefilter"`
	Embeddings EmbeddingInfo  `json:"embeddings"`
}

// EmbeddingInfo reports the active query embedder.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	Available  bool   `json:"available"`
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func toResultOutput(e search.RankedEntry, explain bool) ResultOutput {
	out := ResultOutput{
		ChunkID:        e.ChunkID,
		Score:          e.FinalScore,
		Content:        e.Content,
		SourceKind:     string(e.SourceKind),
		FigureID:       e.FigureID,
		NumericMatched: e.NumericMatched,
	}
	if explain {
		out.Signals = &SignalsOutput{
			Dense:             e.Dense,
			Sparse:            e.Sparse,
			Keyword:           e.Keyword,
			Hybrid:            e.Hybrid,
			SectionAdjustment: e.SectionAdjustment,
			Discounted:        e.Discounted,
		}
	}
	return out
}

func warningsFor(d search.Diagnostics) []string {
	var w []string
	if d.EmptyCorpus {
		w = append(w, "corpus is empty")
	}
	if d.DenseUnavailable {
		w = append(w, "query embedding unavailable, ranked on lexical signals only")
	} else if d.DenseDimMismatch > 0 {
		w = append(w, fmt.Sprintf("%d chunks have embeddings of another width and no dense signal", d.DenseDimMismatch))
	}
	for _, frag := range d.MalformedConstraints {
		w = append(w, "ignored malformed numeric constraint: "+frag)
	}
	return w
}
