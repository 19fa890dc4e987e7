package search

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/store"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		query string
		want  QueryKind
	}{
		{"95.1%", KindDigitAtomic},
		{"10.5×", KindDigitAtomic},
		{"précision < 10x", KindDigitCombined},
		{"precision at compression less than 10x", KindDigitCombined},
		{"quel niveau à 10x compression", KindDigitCombined},
		{"between 5x and 10x", KindDigitCombined},
		{"moins de 10x", KindDigitCombined},
		{"under 10x", KindDigitCombined},
		{"la plus forte à 10x", KindDigitAtomic},
		{"lossless 10x", KindDigitAtomic},
		{"overall 10x", KindDigitAtomic},
		{"DeepEncoder c'est quoi ?", KindTextAtomic},
		{"how does the vision encoder reach its compression level in practice", KindTextCombined},
		{"compression ratio", KindTextAtomic},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectKind(tt.query))
		})
	}
}

func TestQueryKind_IsNumeric(t *testing.T) {
	assert.True(t, KindDigitAtomic.IsNumeric())
	assert.True(t, KindDigitCombined.IsNumeric())
	assert.False(t, KindTextAtomic.IsNumeric())
	assert.False(t, KindTextCombined.IsNumeric())
}

func TestExtractConstraints(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []NumericalConstraint
	}{
		{
			name:  "symbolic less than",
			query: "précision < 10x",
			want:  []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}},
		},
		{
			name:  "symbolic greater or equal with percent",
			query: "accuracy ≥ 95%",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 95, Unit: "%"}},
		},
		{
			name:  "verbal less than",
			query: "precision at compression less than 10x",
			want:  []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}},
		},
		{
			name:  "verbal french greater than prefers percent",
			query: "taux supérieur à 90% pour 10x",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 90, Unit: "%"}},
		},
		{
			name:  "between with unicode times",
			query: "compression entre 5× et 12×",
			want:  []NumericalConstraint{{Op: OpBetween, Min: 5, Max: 12, Unit: "x"}},
		},
		{
			name:  "between reversed bounds",
			query: "between 20% and 10%",
			want:  []NumericalConstraint{{Op: OpBetween, Min: 10, Max: 20, Unit: "%"}},
		},
		{
			name:  "french moins de binds less than",
			query: "compression moins de 10x",
			want:  []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}},
		},
		{
			name:  "french plus de binds greater than",
			query: "précision plus de 90%",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 90, Unit: "%"}},
		},
		{
			name:  "feminine supérieure",
			query: "une précision supérieure à 95%",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 95, Unit: "%"}},
		},
		{
			name:  "above binds greater than",
			query: "compression with precision above 90%",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 90, Unit: "%"}},
		},
		{
			name:  "over binds greater than",
			query: "accuracy over 95%",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 95, Unit: "%"}},
		},
		{
			name:  "under binds less than",
			query: "ratio under 10x",
			want:  []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}},
		},
		{
			name:  "below binds less than",
			query: "compression below 10x",
			want:  []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}},
		},
		{
			name:  "more than binds greater than",
			query: "more than 20x compression",
			want:  []NumericalConstraint{{Op: OpGreaterThan, Value: 20, Unit: "x"}},
		},
		{
			name:  "comparator inside a word is ignored",
			query: "lossless 10x compression overall",
			want:  []NumericalConstraint{{Op: OpExact, Value: 10, Unit: "x"}},
		},
		{
			name:  "exact fallback",
			query: "10x compression",
			want:  []NumericalConstraint{{Op: OpExact, Value: 10, Unit: "x"}},
		},
		{
			name:  "no numbers",
			query: "what is the compression",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, malformed := ExtractConstraints(tt.query)
			assert.Empty(t, malformed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractConstraints_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantValid int
	}{
		{name: "comparator without value", query: "compression less than ten", wantValid: 0},
		{name: "symbol without unit", query: "accuracy > 90 on 10x", wantValid: 1},
		{name: "between without unit", query: "between 5 and 10", wantValid: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, malformed := ExtractConstraints(tt.query)

			require.NotEmpty(t, malformed)
			for _, err := range malformed {
				assert.ErrorIs(t, err, ragerrors.ErrMalformedConstraint)
			}
			assert.Len(t, got, tt.wantValid)
		})
	}
}

func TestExtractValues(t *testing.T) {
	values := ExtractValues("6.7× compression with 96.5% accuracy and 20x elsewhere")

	require.Len(t, values, 3)
	assert.Equal(t, ExtractedValue{Value: 96.5, Unit: "%", Raw: "96.5%", Position: 23}, values[0])
	assert.Equal(t, 6.7, values[1].Value)
	assert.Equal(t, "x", values[1].Unit)
	assert.Equal(t, 20.0, values[2].Value)
}

func TestNumericalConstraint_Satisfied(t *testing.T) {
	x := func(v float64) ExtractedValue { return ExtractedValue{Value: v, Unit: "x"} }
	pct := func(v float64) ExtractedValue { return ExtractedValue{Value: v, Unit: "%"} }

	exact := NumericalConstraint{Op: OpExact, Value: 10, Unit: "x"}
	assert.True(t, exact.Satisfied(x(10.4)))
	assert.False(t, exact.Satisfied(x(10.6)))
	assert.False(t, exact.Satisfied(pct(10)))

	small := NumericalConstraint{Op: OpExact, Value: 0.5, Unit: "%"}
	assert.True(t, small.Satisfied(pct(0.54)), "tolerance is relative to max(target, 1)")

	less := NumericalConstraint{Op: OpLessThan, Value: 10, Unit: "x"}
	assert.True(t, less.Satisfied(x(6.7)))
	assert.False(t, less.Satisfied(x(10)), "strict")

	greater := NumericalConstraint{Op: OpGreaterThan, Value: 95, Unit: "%"}
	assert.True(t, greater.Satisfied(pct(96.5)))
	assert.False(t, greater.Satisfied(pct(95)), "strict")

	between := NumericalConstraint{Op: OpBetween, Min: 5, Max: 10, Unit: "x"}
	assert.True(t, between.Satisfied(x(5)), "inclusive")
	assert.True(t, between.Satisfied(x(10)), "inclusive")
	assert.False(t, between.Satisfied(x(10.1)))
}

func TestRerankNumeric_HardPriority(t *testing.T) {
	// Given: a high-scoring chunk without numbers and a low-scoring match
	items := []*ScoredChunk{
		{Chunk: &store.Chunk{ID: "abstract", Content: "We study optical compression."}, Score: 1.0},
		{Chunk: &store.Chunk{ID: "table", Content: "6.7× compression, 96.5% accuracy"}, Score: 0.05},
	}
	constraints := []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}}

	// When: reranking
	RerankNumeric(items, constraints)

	// Then: the match is first regardless of score
	assert.Equal(t, "table", items[0].Chunk.ID)
	require.NotNil(t, items[0].Matched)
	assert.True(t, *items[0].Matched)
	require.NotNil(t, items[1].Matched)
	assert.False(t, *items[1].Matched)
}

func TestRerankNumeric_NoConstraintsIsNoop(t *testing.T) {
	items := []*ScoredChunk{
		{Chunk: &store.Chunk{ID: "b"}, Score: 0.1},
		{Chunk: &store.Chunk{ID: "a"}, Score: 0.9},
	}

	RerankNumeric(items, nil)

	assert.Equal(t, "b", items[0].Chunk.ID)
	assert.Nil(t, items[0].Matched)
}

func TestRerankNumeric_MatchesAlwaysPrecedeNonMatches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	constraints := []NumericalConstraint{{Op: OpLessThan, Value: 10, Unit: "x"}}

	for trial := 0; trial < 200; trial++ {
		var items []*ScoredChunk
		for i := 0; i < 12; i++ {
			content := "no numbers here"
			if rng.Intn(3) == 0 {
				content = fmt.Sprintf("reaches %.1fx", rng.Float64()*20)
			}
			items = append(items, &ScoredChunk{
				Chunk: &store.Chunk{ID: fmt.Sprintf("c%02d", i), Content: content},
				Score: float64(rng.Intn(5)) / 4,
			})
		}

		RerankNumeric(items, constraints)

		seenMiss := false
		for i, it := range items {
			require.NotNil(t, it.Matched)
			if !*it.Matched {
				seenMiss = true
				continue
			}
			require.False(t, seenMiss, "trial %d: match at %d after a non-match", trial, i)
		}
		for i := 1; i < len(items); i++ {
			a, b := items[i-1], items[i]
			if *a.Matched == *b.Matched {
				require.True(t, a.Score > b.Score || a.Score == b.Score && a.Chunk.ID < b.Chunk.ID)
			}
		}
	}
}
