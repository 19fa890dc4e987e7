// Package session publishes immutable corpus snapshots. A snapshot bundles
// the chunks with the lexical statistics built over them; queries take one
// snapshot and use it throughout, while a rebuild swaps in a new one
// atomically.
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/lexical"
	"github.com/gravis-app/ragcore/internal/store"
)

// Options configures snapshot construction.
type Options struct {
	Lexical lexical.Options

	// PrefilterLimit builds a candidate prefilter when the corpus has more
	// chunks than this. 0 disables it.
	PrefilterLimit int
}

// OptionsFromConfig maps the search section onto snapshot options.
func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		Lexical: lexical.Options{
			K1:                      cfg.BM25K1,
			B:                       cfg.BM25B,
			TechnicalTerms:          cfg.TechnicalTerms,
			OrthographicVariants:    cfg.EnableOrthographicVariants,
			ExplanatoryContextBonus: cfg.EnableExplanatoryContextBonus,
		},
		PrefilterLimit: cfg.PrefilterLimit,
	}
}

// Snapshot is a frozen view of the corpus. Nothing in it changes after
// NewSnapshot returns.
type Snapshot struct {
	id            string
	corpusVersion string
	builtAt       time.Time

	chunks    []*store.Chunk
	byID      map[string]*store.Chunk
	lexical   *lexical.Index
	prefilter *store.CandidateIndex
}

// NewSnapshot indexes chunks. Chunks are ordered by ID; nil chunks and
// duplicate IDs are rejected.
func NewSnapshot(chunks []*store.Chunk, corpusVersion string, opts Options) (*Snapshot, error) {
	for i, c := range chunks {
		if c == nil {
			return nil, fmt.Errorf("chunk %d is nil", i)
		}
	}
	sorted := make([]*store.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]*store.Chunk, len(sorted))
	docs := make([]lexical.Document, len(sorted))
	for i, c := range sorted {
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", c.ID)
		}
		byID[c.ID] = c
		docs[i] = lexical.Document{ID: c.ID, Text: c.Content}
	}

	snap := &Snapshot{
		id:            uuid.NewString(),
		corpusVersion: corpusVersion,
		builtAt:       time.Now(),
		chunks:        sorted,
		byID:          byID,
		lexical:       lexical.Build(docs, opts.Lexical),
	}

	if opts.PrefilterLimit > 0 && len(sorted) > opts.PrefilterLimit {
		pf, err := store.NewCandidateIndex(sorted)
		if err != nil {
			return nil, fmt.Errorf("failed to build prefilter: %w", err)
		}
		snap.prefilter = pf
	}
	return snap, nil
}

func (s *Snapshot) ID() string              { return s.id }
func (s *Snapshot) CorpusVersion() string   { return s.corpusVersion }
func (s *Snapshot) BuiltAt() time.Time      { return s.builtAt }
func (s *Snapshot) Len() int                { return len(s.chunks) }
func (s *Snapshot) Lexical() *lexical.Index { return s.lexical }
func (s *Snapshot) Chunks() []*store.Chunk  { return s.chunks }

// Prefilter is nil unless the corpus exceeded Options.PrefilterLimit.
func (s *Snapshot) Prefilter() *store.CandidateIndex { return s.prefilter }

// Chunk looks up a chunk by ID.
func (s *Snapshot) Chunk(id string) (*store.Chunk, bool) {
	c, ok := s.byID[id]
	return c, ok
}
