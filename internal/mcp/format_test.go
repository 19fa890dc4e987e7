package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/search"
)

func TestFormatSearchResults(t *testing.T) {
	matched := true
	out := SearchOutput{
		Query: "accuracy above 90%",
		Results: []ResultOutput{
			{ChunkID: "abs", Score: 0.91, Content: "97% accuracy", SourceKind: "body_text", NumericMatched: &matched},
			{ChunkID: "cap", Score: 0.5, Content: strings.Repeat("x", snippetRunes+10), SourceKind: "figure_caption", FigureID: "fig3",
				Signals: &SignalsOutput{Dense: 0.5, SectionAdjustment: -0.05}},
		},
		Warnings: []string{"query embedding unavailable, ranked on lexical signals only"},
	}

	md := FormatSearchResults(out)

	assert.Contains(t, md, `## Results for "accuracy above 90%"`)
	assert.Contains(t, md, "### 1. abs (score: 0.910, body_text)")
	assert.Contains(t, md, "Satisfies the numeric constraint.")
	assert.Contains(t, md, "fig3")
	assert.Contains(t, md, "section -0.05")
	assert.Contains(t, md, "…")
	assert.Contains(t, md, "> Note: query embedding unavailable")
}

func TestFormatSearchResults_Empty(t *testing.T) {
	md := FormatSearchResults(SearchOutput{Query: "nothing"})
	assert.Contains(t, md, `No results found for "nothing"`)
}

func TestWarningsFor(t *testing.T) {
	w := warningsFor(search.Diagnostics{DenseUnavailable: true, MalformedConstraints: []string{"> "}})
	assert.Len(t, w, 2)
	assert.Empty(t, warningsFor(search.Diagnostics{}))

	w = warningsFor(search.Diagnostics{DenseDimMismatch: 3})
	require.Len(t, w, 1)
	assert.Contains(t, w[0], "3 chunks")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-3))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, maxLimit, clampLimit(500))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid query", ragerrors.InvalidQuery("query is empty"), ErrCodeInvalidParams},
		{"network", ragerrors.New(ragerrors.ErrCodeEmbedderTimeout, "slow", nil), ErrCodeTimeout},
		{"store", ragerrors.StoreError("boom", nil), ErrCodeInternalError},
		{"not ready", ErrCorpusNotReady, ErrCodeCorpusNotReady},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"unknown", errors.New("x"), ErrCodeInternalError},
		{"passthrough", NewInvalidParamsError("bad"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
	assert.Nil(t, MapError(nil))
}
