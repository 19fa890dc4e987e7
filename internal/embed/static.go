package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder hashes words and character trigrams into a fixed-width
// vector. It needs no network or model and is deterministic, at the cost of
// capturing only surface similarity.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

// proseStopWords are dropped before hashing.
var proseStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"with": true, "by": true, "at": true, "as": true, "it": true, "this": true,
	"le": true, "la": true, "les": true, "de": true, "des": true, "du": true,
	"un": true, "une": true, "et": true, "en": true, "est": true, "pour": true,
}

// NewStaticEmbedder creates a static embedder of the given width; 0 means
// StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	vec := make([]float32, e.dims)
	words := staticWords(text)
	if len(words) == 0 {
		return vec, nil
	}
	for _, w := range words {
		vec[hashToIndex(w, e.dims)] += wordWeight
	}
	joined := " " + strings.Join(words, " ") + " "
	runes := []rune(joined)
	for i := 0; i+trigramSize <= len(runes); i++ {
		vec[hashToIndex(string(runes[i:i+trigramSize]), e.dims)] += trigramWeight
	}
	return normalizeVector(vec), nil
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int   { return e.dims }
func (e *StaticEmbedder) ModelName() string { return fmt.Sprintf("static-%d", e.dims) }

func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// staticWords lowercases text and splits it on anything that is not a
// letter or digit, dropping stop words.
func staticWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !proseStopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}
