package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/store"
	"github.com/gravis-app/ragcore/internal/telemetry"
)

func boolPtr(b bool) *bool { return &b }

func sampleResult() *search.RankedResult {
	return &search.RankedResult{
		Query: "pressure below 5 bar",
		Entries: []search.RankedEntry{
			{
				ChunkID: "doc1#3", FinalScore: 0.8123, NumericMatched: boolPtr(true),
				Content: "The   valve holds\n3 bar of pressure.", SourceKind: store.SourceBodyText,
				Dense: 0.7, Sparse: 0.9, Keyword: 0.4, Hybrid: 0.75, SectionAdjustment: 0.05,
			},
			{
				ChunkID: "doc1#9", FinalScore: 0.2, NumericMatched: boolPtr(false),
				Content: "Smith et al. 2019", SourceKind: store.SourceBodyText, Discounted: true,
			},
		},
		Diagnostics: search.Diagnostics{
			QueryIntent:          search.IntentMixed,
			QueryKind:            search.KindDigitAtomic,
			Weights:              search.IntentWeights{Dense: 0.5, Sparse: 0.3, Keyword: 0.2},
			TopTerms:             []string{"pressure", "bar"},
			Candidates:           12,
			BroadPool:            10,
			Constraints:          []search.NumericalConstraint{{Op: search.OpLessThan, Value: 5, Unit: "bar"}},
			NumericRerankApplied: true,
			Stages: []search.StageTiming{
				{Stage: search.StageRetrieving, Duration: 1500 * time.Microsecond},
			},
			Total:      2 * time.Millisecond,
			SnapshotID: "snap-1",
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{" JSON ", FormatJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_BufferIsNeverColored(t *testing.T) {
	// Given a non-terminal writer
	var buf bytes.Buffer

	// When a writer is created without disabling color
	w := New(&buf, false)

	// Then color stays off
	assert.False(t, w.color)
	assert.False(t, IsTTY(&buf))
}

func TestNoColorRequested(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, NoColorRequested())
}

func TestWriter_Result(t *testing.T) {
	// Given a ranked result with a numeric constraint
	var buf bytes.Buffer
	w := New(&buf, true)

	// When rendered without explain
	w.Result(sampleResult(), false)

	// Then entries appear in order with badges and collapsed content
	out := buf.String()
	assert.Contains(t, out, `2 results for "pressure below 5 bar"`)
	assert.Contains(t, out, " 1. doc1#3  0.8123  body_text  [matches]")
	assert.Contains(t, out, " 2. doc1#9  0.2000  body_text  [no match]")
	assert.Contains(t, out, "The valve holds 3 bar of pressure.")
	assert.NotContains(t, out, "Diagnostics")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("doc1#3")), bytes.Index(buf.Bytes(), []byte("doc1#9")))
}

func TestWriter_ResultExplain(t *testing.T) {
	// Given a ranked result
	var buf bytes.Buffer
	w := New(&buf, true)

	// When rendered with explain
	w.Result(sampleResult(), true)

	// Then signals and diagnostics are shown
	out := buf.String()
	assert.Contains(t, out, "dense 0.700  sparse 0.900  keyword 0.400  hybrid 0.750  section +0.05")
	assert.Contains(t, out, "bibliography-discounted")
	assert.Contains(t, out, "Diagnostics")
	assert.Contains(t, out, "mixed / digit_atomic")
	assert.Contains(t, out, "pressure, bar")
	assert.Contains(t, out, "12 scored, 10 kept")
	assert.Contains(t, out, "(applied: true)")
	assert.Contains(t, out, "retrieving 1.5ms")
	assert.Contains(t, out, "snap-1")
}

func TestWriter_ResultWarnings(t *testing.T) {
	// Given an empty result from a degraded pipeline
	var buf bytes.Buffer
	w := New(&buf, true)
	res := &search.RankedResult{
		Query: "x",
		Diagnostics: search.Diagnostics{
			EmptyCorpus:          true,
			DenseUnavailable:     true,
			DenseError:           "connection refused",
			MalformedConstraints: []string{"between 5 and"},
		},
	}

	// When rendered
	w.Result(res, false)

	// Then each degradation is reported
	out := buf.String()
	assert.Contains(t, out, `No results for "x"`)
	assert.Contains(t, out, "corpus is empty")
	assert.Contains(t, out, "lexical signals only (connection refused)")
	assert.Contains(t, out, `"between 5 and"`)
}

func TestWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, true)

	require.NoError(t, w.JSON(sampleResult()))

	var decoded search.RankedResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "pressure below 5 bar", decoded.Query)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "doc1#3", decoded.Entries[0].ChunkID)
}

func TestWriter_Stats(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, true)

	w.Stats("/tmp/corpus.db", &store.Stats{
		Chunks: 10, Embedded: 8, Documents: 2, Dimensions: 64,
		BySource: map[string]int{"table": 3, "body_text": 7},
	})

	out := buf.String()
	assert.Contains(t, out, "10 (8 embedded, 64 dims)")
	assert.Contains(t, out, "(never ingested)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("body_text")), bytes.Index(buf.Bytes(), []byte("table")))
}

func TestWriter_Telemetry(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, true).Telemetry(&telemetry.Report{From: "2026-01-01", To: "2026-01-31"})
		assert.Contains(t, buf.String(), "Queries 2026-01-01 to 2026-01-31")
		assert.NotContains(t, buf.String(), "zero results")
	})

	t.Run("populated", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, true).Telemetry(&telemetry.Report{
			Counters:     telemetry.Counters{Queries: 4, ZeroResults: 1, NumericReranked: 2},
			IntentCounts: map[string]int64{"mixed": 3, "conceptual": 1},
			TopTerms:     []telemetry.TermCount{{Term: "valve", Count: 3}},
		})
		out := buf.String()
		assert.Contains(t, out, "1 (25.0%)")
		assert.Contains(t, out, "conceptual=1 mixed=3")
		assert.Contains(t, out, "valve (3)")
	})
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet(" a\n\tb ", 10))
	assert.Equal(t, "héll…", snippet("héllo", 4))
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, true)
	w.Success("done")
	w.Warningf("%d skipped", 2)
	w.Error("failed")
	assert.Equal(t, "✓ done\n! 2 skipped\n✗ failed\n", buf.String())
}
