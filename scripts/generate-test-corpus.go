//go:build ignore

// Package main generates a synthetic paper corpus for benchmarking ingest
// and search, including the noise the contamination filter has to catch.
// Usage: go run scripts/generate-test-corpus.go -chunks 5000 -output testdata/bench/corpus.yaml
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	numChunks  = flag.Int("chunks", 2000, "Number of chunks to generate")
	numDocs    = flag.Int("docs", 20, "Number of documents the chunks are spread over")
	outputPath = flag.String("output", "testdata/bench/corpus.yaml", "Output file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type record struct {
	ID         string `yaml:"id"`
	Content    string `yaml:"content"`
	SourceKind string `yaml:"source_kind"`
	FigureID   string `yaml:"figure_id,omitempty"`
	DocumentID string `yaml:"document_id"`
}

var subjects = []string{
	"optical compression", "the vision encoder", "the decoder", "layout detection",
	"table recognition", "formula parsing", "multilingual OCR", "chart understanding",
	"token budgets", "the training mixture",
}

var verbs = []string{
	"improves", "reduces", "stabilizes", "limits", "dominates", "trades off against",
}

var objects = []string{
	"OCR precision", "activation memory", "decoding latency", "edit distance",
	"vision tokens per page", "throughput on long documents",
}

var openers = []string{
	"Abstract. ", "In this paper we show that ", "Introduction. We propose that ",
	"", "", "", "Experiments. ", "In summary, ",
}

func sentence(r *rand.Rand) string {
	s := fmt.Sprintf("%s %s %s", subjects[r.Intn(len(subjects))], verbs[r.Intn(len(verbs))], objects[r.Intn(len(objects))])
	switch r.Intn(3) {
	case 0:
		s += fmt.Sprintf(" at a %dx compression ratio", 2+r.Intn(20))
	case 1:
		s += fmt.Sprintf(" with %d%% accuracy", 50+r.Intn(50))
	}
	return s + "."
}

func bodyText(r *rand.Rand) string {
	var b strings.Builder
	b.WriteString(openers[r.Intn(len(openers))])
	for i := 0; i < 3+r.Intn(4); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence(r))
	}
	return b.String()
}

func bibliography(r *rand.Rand) string {
	var b strings.Builder
	b.WriteString("References. ")
	for i := 1; i <= 3+r.Intn(3); i++ {
		fmt.Fprintf(&b, "[%d] Author%d, A. et al. (%d). %s. arXiv preprint %d.%05d. ",
			i, r.Intn(100), 2015+r.Intn(10), subjects[r.Intn(len(subjects))], 2000+r.Intn(500), r.Intn(99999))
	}
	return b.String()
}

func caption(r *rand.Rand, fig int) string {
	if r.Intn(4) == 0 {
		return fmt.Sprintf("Figure %d.", fig)
	}
	return fmt.Sprintf("Figure %d: %s Results are averaged over three runs on the benchmark pages.", fig, sentence(r))
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	docs := max(*numDocs, 1)
	records := make([]record, 0, *numChunks)
	for i := 0; i < *numChunks; i++ {
		doc := fmt.Sprintf("doc-%03d", i%docs)
		rec := record{ID: fmt.Sprintf("%s#%05d", doc, i), DocumentID: doc, SourceKind: "body_text"}

		switch n := r.Intn(100); {
		case n < 5:
			rec.Content = bibliography(r)
		case n < 12:
			rec.SourceKind = "figure_caption"
			rec.FigureID = fmt.Sprintf("fig%d", 1+r.Intn(12))
			rec.Content = caption(r, 1+r.Intn(12))
		case n < 15:
			rec.SourceKind = "figure_region_text"
			rec.Content = "The photo shows a library room with furniture and shelves dedicated to books."
		case n < 20:
			rec.SourceKind = "table"
			rec.Content = fmt.Sprintf("Table: benchmark scores. Qwen %d%%, InternVL %d%%, MinerU %d%%.", 60+r.Intn(40), 60+r.Intn(40), 60+r.Intn(40))
		default:
			rec.Content = bodyText(r)
		}
		records = append(records, rec)
	}

	data, err := yaml.Marshal(map[string]any{"chunks": records})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal corpus: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write corpus: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d chunks over %d documents in %s\n", len(records), docs, *outputPath)
}
