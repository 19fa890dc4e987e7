package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75

	// minTermRunes drops short tokens from top-term extraction.
	minTermRunes = 3

	// rareIDF marks a token as rare for the multi-rare-term bonus.
	rareIDF = 2.0
)

// Document is the lexical view of a chunk.
type Document struct {
	ID   string
	Text string
}

// Options configures an Index.
type Options struct {
	K1 float64
	B  float64

	TechnicalTerms []string

	// OrthographicVariants emits variant tokens on both sides.
	OrthographicVariants bool

	// ExplanatoryContextBonus adds a bonus when a whitelist term appears
	// near words like "role" or "purpose".
	ExplanatoryContextBonus bool
}

// DefaultOptions returns k1=1.2, b=0.75 and no whitelist.
func DefaultOptions() Options {
	return Options{K1: DefaultK1, B: DefaultB}
}

type docStats struct {
	tf     map[string]int
	length int
}

// Index holds corpus statistics for BM25. It is built once and never
// mutated, so concurrent queries may share it without locking.
type Index struct {
	opts      Options
	tokenizer *Tokenizer
	docs      map[string]docStats
	df        map[string]int
	n         int
	avgLen    float64
}

// Build tokenizes every document and computes document frequencies.
func Build(docs []Document, opts Options) *Index {
	if opts.K1 <= 0 {
		opts.K1 = DefaultK1
	}
	if opts.B < 0 || opts.B > 1 {
		opts.B = DefaultB
	}

	ix := &Index{
		opts:      opts,
		tokenizer: NewTokenizer(opts.TechnicalTerms, opts.OrthographicVariants),
		docs:      make(map[string]docStats, len(docs)),
		df:        make(map[string]int),
		n:         len(docs),
	}

	total := 0
	for _, d := range docs {
		tokens := ix.tokenizer.Tokenize(d.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			ix.df[tok]++
		}
		ix.docs[d.ID] = docStats{tf: tf, length: len(tokens)}
		total += len(tokens)
	}
	if ix.n > 0 {
		ix.avgLen = float64(total) / float64(ix.n)
	}
	return ix
}

func (ix *Index) Len() int              { return ix.n }
func (ix *Index) AvgLen() float64       { return ix.avgLen }
func (ix *Index) Tokenizer() *Tokenizer { return ix.tokenizer }
func (ix *Index) Options() Options      { return ix.opts }

// DocFreq returns the number of documents containing tok.
func (ix *Index) DocFreq(tok string) int {
	return ix.df[tok]
}

// IDF returns ln(N/df + 1). ok is false for tokens absent from the corpus.
func (ix *Index) IDF(tok string) (float64, bool) {
	df := ix.df[tok]
	if df == 0 || ix.n == 0 {
		return 0, false
	}
	return math.Log(float64(ix.n)/float64(df) + 1), true
}

// Query is a query analyzed against this index.
type Query struct {
	Text   string
	Tokens []string
	Words  []string
	Terms  []Term
}

// Analyze tokenizes a query with the index tokenizer.
func (ix *Index) Analyze(text string) Query {
	return Query{
		Text:   text,
		Tokens: ix.tokenizer.Tokenize(text),
		Words:  Words(text),
		Terms:  ix.tokenizer.MatchedTerms(text),
	}
}

// Score returns the BM25 score of docID for q; 0 for unknown documents.
func (ix *Index) Score(q Query, docID string) float64 {
	d, ok := ix.docs[docID]
	if !ok || d.length == 0 {
		return 0
	}

	norm := 1.0
	if ix.avgLen > 0 {
		norm = 1 - ix.opts.B + ix.opts.B*float64(d.length)/ix.avgLen
	}

	var score float64
	for _, tok := range q.Tokens {
		tf := float64(d.tf[tok])
		if tf == 0 {
			continue
		}
		idf, _ := ix.IDF(tok)
		score += idf * tf * (ix.opts.K1 + 1) / (tf + ix.opts.K1*norm)
	}
	return score
}

// KeywordBoost scores term overlap between q and content in [0, 1]:
// whitelist terms add 0.3 (proper names) or 0.15, each query word of three
// or more runes found in content adds min(idf/5, 0.2), and two or more rare
// words (idf > 2) add a further 0.2.
func (ix *Index) KeywordBoost(q Query, content string) float64 {
	lower := strings.ToLower(content)
	var boost float64

	for _, term := range q.Terms {
		pos := strings.Index(lower, term.Text)
		if pos < 0 {
			continue
		}
		base := 0.15
		if term.ProperName {
			base = 0.3
		}
		if ix.opts.ExplanatoryContextBonus && hasExplanatoryContext(lower, pos, len(term.Text)) {
			base += 0.1
		}
		boost += base
	}

	rare := 0
	seen := make(map[string]bool, len(q.Words))
	for _, w := range q.Words {
		if seen[w] || utf8.RuneCountInString(w) < minTermRunes {
			continue
		}
		seen[w] = true
		if !strings.Contains(lower, w) {
			continue
		}
		idf, ok := ix.IDF(w)
		if !ok {
			continue
		}
		boost += math.Min(idf/5, 0.2)
		if idf > rareIDF {
			rare++
		}
	}
	if rare >= 2 {
		boost += 0.2
	}

	return clamp01(boost)
}

// TermIDF pairs a query word with its IDF.
type TermIDF struct {
	Term string
	IDF  float64
}

// TopTerms returns up to k distinct query words (three or more runes, known
// to the corpus) by descending IDF, ties broken alphabetically.
func (ix *Index) TopTerms(q Query, k int) []TermIDF {
	seen := make(map[string]bool, len(q.Words))
	var terms []TermIDF
	for _, w := range q.Words {
		if seen[w] || utf8.RuneCountInString(w) < minTermRunes {
			continue
		}
		seen[w] = true
		if idf, ok := ix.IDF(w); ok {
			terms = append(terms, TermIDF{Term: w, IDF: idf})
		}
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].IDF != terms[j].IDF {
			return terms[i].IDF > terms[j].IDF
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

var explanatoryWords = []string{
	"role", "function", "purpose", "uses", "achieves", "enables",
	"rôle", "fonction", "objectif", "utilise", "permet", "atteint",
}

const contextWindow = 80

func hasExplanatoryContext(lower string, pos, n int) bool {
	start := max(0, pos-contextWindow)
	end := min(len(lower), pos+n+contextWindow)
	window := lower[start:end]
	for _, w := range explanatoryWords {
		if strings.Contains(window, w) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
