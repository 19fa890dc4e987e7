// Package output renders search results and status for the CLI, as
// colored text on a terminal or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/store"
	"github.com/gravis-app/ragcore/internal/telemetry"
)

// Format selects the renderer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" and "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Writer writes CLI output. Write errors are ignored: there is nowhere
// better to report them.
type Writer struct {
	out    io.Writer
	styles Styles
	color  bool
}

// New creates a Writer. Colors are used only when out is a terminal and
// neither noColor nor NO_COLOR is set.
func New(out io.Writer, noColor bool) *Writer {
	color := !noColor && !NoColorRequested() && IsTTY(out)
	w := &Writer{out: out, styles: plainStyles(), color: color}
	if color {
		w.styles = colorStyles()
	}
	return w
}

func (w *Writer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

func (w *Writer) Success(msg string) { w.printf("%s %s\n", w.styles.Success.Render("✓"), msg) }
func (w *Writer) Warning(msg string) { w.printf("%s %s\n", w.styles.Warning.Render("!"), msg) }
func (w *Writer) Error(msg string)   { w.printf("%s %s\n", w.styles.Error.Render("✗"), msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// JSON writes v indented.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result renders a ranked result. explain adds per-entry signals and the
// pipeline diagnostics.
func (w *Writer) Result(res *search.RankedResult, explain bool) {
	s := w.styles
	d := res.Diagnostics

	if len(res.Entries) == 0 {
		w.printf("No results for %q\n", res.Query)
	} else {
		w.printf("%s\n\n", s.Header.Render(fmt.Sprintf("%d results for %q", len(res.Entries), res.Query)))
	}

	for i, e := range res.Entries {
		kind := string(e.SourceKind)
		if e.FigureID != "" {
			kind += " " + e.FigureID
		}
		w.printf("%2d. %s  %s  %s%s\n", i+1,
			s.ID.Render(e.ChunkID),
			s.Score.Render(fmt.Sprintf("%.4f", e.FinalScore)),
			s.Label.Render(kind),
			matchBadge(e.NumericMatched))
		if explain {
			line := fmt.Sprintf("dense %.3f  sparse %.3f  keyword %.3f  hybrid %.3f  section %+.2f",
				e.Dense, e.Sparse, e.Keyword, e.Hybrid, e.SectionAdjustment)
			if e.Discounted {
				line += "  bibliography-discounted"
			}
			w.printf("    %s\n", s.Dim.Render(line))
		}
		w.printf("    %s\n\n", snippet(e.Content, 240))
	}

	if d.EmptyCorpus {
		w.Warning("corpus is empty; run 'ragcore ingest' first")
	}
	if d.DenseUnavailable {
		msg := "query embedding unavailable; ranked on lexical signals only"
		if d.DenseError != "" {
			msg += " (" + d.DenseError + ")"
		}
		w.Warning(msg)
	} else if d.DenseDimMismatch > 0 {
		w.Warningf("%d chunks have embeddings of another width; no dense signal for them", d.DenseDimMismatch)
	}
	for _, frag := range d.MalformedConstraints {
		w.Warningf("ignored malformed numeric constraint %q", frag)
	}

	if explain {
		w.diagnostics(d)
	}
}

func (w *Writer) diagnostics(d search.Diagnostics) {
	s := w.styles
	label := func(k string) string { return s.Label.Render(fmt.Sprintf("%-18s", k)) }

	w.printf("%s\n", s.Header.Render("Diagnostics"))
	w.printf("  %s %s / %s\n", label("intent / kind"), d.QueryIntent, d.QueryKind)
	w.printf("  %s dense %.2f  sparse %.2f  keyword %.2f (adaptive: %t)\n", label("weights"),
		d.Weights.Dense, d.Weights.Sparse, d.Weights.Keyword, d.AdaptiveWeights)
	if len(d.TopTerms) > 0 {
		w.printf("  %s %s\n", label("top terms"), strings.Join(d.TopTerms, ", "))
	}
	w.printf("  %s %d scored, %d kept, %d dropped, %d discounted\n", label("candidates"),
		d.Candidates, d.BroadPool, d.DroppedContaminated, d.DiscountedBiblio)
	for _, c := range d.Constraints {
		w.printf("  %s %s (applied: %t)\n", label("constraint"), c.String(), d.NumericRerankApplied)
	}
	var stages []string
	for _, st := range d.Stages {
		stages = append(stages, fmt.Sprintf("%s %s", st.Stage, roundDuration(st.Duration)))
	}
	w.printf("  %s %s\n", label("stages"), strings.Join(stages, ", "))
	w.printf("  %s %s\n", label("total"), roundDuration(d.Total))
	if d.SnapshotID != "" {
		w.printf("  %s %s\n", label("snapshot"), d.SnapshotID)
	}
}

// Stats renders stored corpus statistics.
func (w *Writer) Stats(path string, st *store.Stats) {
	s := w.styles
	label := func(k string) string { return s.Label.Render(fmt.Sprintf("%-12s", k)) }

	w.printf("%s\n", s.Header.Render("Corpus"))
	w.printf("  %s %s\n", label("database"), path)
	w.printf("  %s %d (%d embedded, %d dims)\n", label("chunks"), st.Chunks, st.Embedded, st.Dimensions)
	w.printf("  %s %d\n", label("documents"), st.Documents)
	version := st.Version
	if version == "" {
		version = "(never ingested)"
	}
	w.printf("  %s %s\n", label("version"), version)

	kinds := make([]string, 0, len(st.BySource))
	for k := range st.BySource {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		w.printf("  %s %d\n", label(k), st.BySource[k])
	}
}

// Telemetry renders a persisted telemetry report.
func (w *Writer) Telemetry(r *telemetry.Report) {
	s := w.styles
	label := func(k string) string { return s.Label.Render(fmt.Sprintf("%-18s", k)) }
	c := r.Counters

	w.printf("%s\n", s.Header.Render(fmt.Sprintf("Queries %s to %s", r.From, r.To)))
	w.printf("  %s %d\n", label("total"), c.Queries)
	if c.Queries == 0 {
		return
	}
	w.printf("  %s %d (%.1f%%)\n", label("zero results"), c.ZeroResults, pct(c.ZeroResults, c.Queries))
	w.printf("  %s %d (%.1f%%)\n", label("lexical only"), c.DenseUnavailable, pct(c.DenseUnavailable, c.Queries))
	w.printf("  %s %d\n", label("numeric reranked"), c.NumericReranked)
	w.printf("  %s %d\n", label("chunks dropped"), c.Dropped)
	w.printf("  %s %s\n", label("intents"), formatCounts(r.IntentCounts))
	w.printf("  %s %s\n", label("kinds"), formatCounts(r.KindCounts))

	if len(r.TopTerms) > 0 {
		terms := make([]string, 0, len(r.TopTerms))
		for _, t := range r.TopTerms {
			terms = append(terms, fmt.Sprintf("%s (%d)", t.Term, t.Count))
		}
		w.printf("  %s %s\n", label("top terms"), strings.Join(terms, ", "))
	}
}

func formatCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func pct(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func matchBadge(m *bool) string {
	switch {
	case m == nil:
		return ""
	case *m:
		return "  [matches]"
	default:
		return "  [no match]"
	}
}

// snippet collapses whitespace and cuts to n runes.
func snippet(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d.Round(time.Microsecond)
	}
}
