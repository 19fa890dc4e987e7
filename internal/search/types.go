// Package search ranks corpus chunks for a query. Dense and lexical signals
// are normalized and blended with intent-dependent weights, contaminated
// chunks are discounted or dropped, a query-agnostic section prior adjusts
// the order, and numeric constraints found in the query impose a hard
// priority on chunks that satisfy them.
package search

import (
	"time"

	"github.com/gravis-app/ragcore/internal/store"
)

// QueryIntent selects the hybrid weight triple.
type QueryIntent string

const (
	IntentExactPhrase QueryIntent = "exact_phrase"
	IntentConceptual  QueryIntent = "conceptual"
	IntentMixed       QueryIntent = "mixed"
)

// QueryKind describes the numeric shape of a query.
type QueryKind string

const (
	KindTextAtomic    QueryKind = "text_atomic"
	KindTextCombined  QueryKind = "text_combined"
	KindDigitAtomic   QueryKind = "digit_atomic"
	KindDigitCombined QueryKind = "digit_combined"
)

// IsNumeric reports whether the numeric reranker applies to this kind.
func (k QueryKind) IsNumeric() bool {
	return k == KindDigitAtomic || k == KindDigitCombined
}

// IntentWeights is a (dense, sparse, keyword) triple summing to 1.
type IntentWeights struct {
	Dense   float64 `json:"dense"`
	Sparse  float64 `json:"sparse"`
	Keyword float64 `json:"keyword"`
}

// DefaultWeights is the fixed baseline used when adaptive weights are off.
func DefaultWeights() IntentWeights {
	return IntentWeights{Dense: 0.4, Sparse: 0.4, Keyword: 0.2}
}

// WeightsForIntent returns the adaptive weight triple for an intent.
func WeightsForIntent(intent QueryIntent) IntentWeights {
	switch intent {
	case IntentExactPhrase:
		return IntentWeights{Dense: 0.3, Sparse: 0.5, Keyword: 0.2}
	case IntentConceptual:
		return IntentWeights{Dense: 0.5, Sparse: 0.3, Keyword: 0.2}
	default:
		return IntentWeights{Dense: 0.4, Sparse: 0.4, Keyword: 0.2}
	}
}

// ConstraintOp is the comparison a NumericalConstraint applies.
type ConstraintOp string

const (
	OpExact       ConstraintOp = "exact"
	OpLessThan    ConstraintOp = "less_than"
	OpGreaterThan ConstraintOp = "greater_than"
	OpBetween     ConstraintOp = "between"
)

// NumericalConstraint is a numeric target parsed from a query. Value is the
// target for Exact, LessThan and GreaterThan; Min and Max bound Between.
// Unit is canonical: "x" or "%".
type NumericalConstraint struct {
	Op    ConstraintOp `json:"op"`
	Value float64      `json:"value,omitempty"`
	Min   float64      `json:"min,omitempty"`
	Max   float64      `json:"max,omitempty"`
	Unit  string       `json:"unit"`
}

// ExtractedValue is a numeric value with its unit found in chunk text.
type ExtractedValue struct {
	Value    float64
	Unit     string
	Raw      string
	Position int
}

// ScoredChunk is the per-query working record for one candidate. It is
// never shared between queries.
type ScoredChunk struct {
	Chunk *store.Chunk

	// Raw and normalized signals.
	DenseRaw, SparseRaw, KeywordRaw    float64
	DenseNorm, SparseNorm, KeywordNorm float64

	Hybrid            float64
	Score             float64
	Discounted        bool
	SectionAdjustment float64

	// Matched is nil unless a numeric constraint was evaluated.
	Matched *bool
}

// SectionText implements Sectioned.
func (sc *ScoredChunk) SectionText() string { return sc.Chunk.Content }

// SectionSource implements Sectioned.
func (sc *ScoredChunk) SectionSource() store.SourceKind { return sc.Chunk.SourceKind }

// Stage is a pipeline state.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageRetrieving       Stage = "retrieving"
	StageNormalizing      Stage = "normalizing"
	StageCombining        Stage = "combining"
	StageFiltering        Stage = "filtering"
	StageSectionReranking Stage = "section_reranking"
	StageNumericReranking Stage = "numeric_reranking"
	StageFinalized        Stage = "finalized"
)

// RankedEntry is one chunk in the final order.
type RankedEntry struct {
	ChunkID           string  `json:"chunk_id"`
	FinalScore        float64 `json:"final_score"`
	NumericMatched    *bool   `json:"numeric_matched,omitempty"`
	SectionAdjustment float64 `json:"section_adjustment"`

	Content    string           `json:"content,omitempty"`
	SourceKind store.SourceKind `json:"source_kind,omitempty"`
	FigureID   string           `json:"figure_id,omitempty"`

	// Per-stage signals for explanation.
	Dense      float64 `json:"dense"`
	Sparse     float64 `json:"sparse"`
	Keyword    float64 `json:"keyword"`
	Hybrid     float64 `json:"hybrid"`
	Discounted bool    `json:"discounted,omitempty"`
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Diagnostics explains how a result was produced.
type Diagnostics struct {
	SnapshotID          string        `json:"snapshot_id,omitempty"`
	QueryIntent         QueryIntent   `json:"query_intent"`
	QueryKind           QueryKind     `json:"query_kind"`
	Weights             IntentWeights `json:"weights"`
	AdaptiveWeights     bool          `json:"adaptive_weights"`
	TopTerms            []string      `json:"top_terms,omitempty"`
	Candidates          int           `json:"candidates"`
	BroadPool           int           `json:"broad_pool"`
	DroppedContaminated int           `json:"dropped_contaminated"`
	DiscountedBiblio    int           `json:"discounted_bibliography"`
	DenseUnavailable    bool          `json:"dense_unavailable"`
	DenseError          string        `json:"dense_error,omitempty"`
	// DenseDimMismatch counts candidates whose embedding width differs from
	// the query vector; they get no dense signal.
	DenseDimMismatch     int                   `json:"dense_dim_mismatch,omitempty"`
	Constraints          []NumericalConstraint `json:"constraints,omitempty"`
	MalformedConstraints []string              `json:"malformed_constraints,omitempty"`
	NumericRerankApplied bool                  `json:"numeric_rerank_applied"`
	EmptyCorpus          bool                  `json:"empty_corpus,omitempty"`
	Stages               []StageTiming         `json:"stages"`
	Total                time.Duration         `json:"total_ns"`
}

// RankedResult is the output of a search.
type RankedResult struct {
	Query       string        `json:"query"`
	Entries     []RankedEntry `json:"entries"`
	Diagnostics Diagnostics   `json:"diagnostics"`
}
