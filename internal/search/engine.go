package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	ragerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/lexical"
	"github.com/gravis-app/ragcore/internal/session"
	"github.com/gravis-app/ragcore/internal/store"
	"github.com/gravis-app/ragcore/internal/telemetry"
)

// Engine runs the ranking pipeline. It holds no per-query state and is safe
// for concurrent use.
type Engine struct {
	embedder embed.Embedder
	recorder telemetry.Recorder
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEmbedder sets the query embedder. Without one, queries that carry no
// precomputed vector rank on lexical signals only.
func WithEmbedder(e embed.Embedder) EngineOption {
	return func(eng *Engine) {
		eng.embedder = e
	}
}

// WithRecorder sets a telemetry sink for per-query events.
func WithRecorder(r telemetry.Recorder) EngineOption {
	return func(eng *Engine) {
		eng.recorder = r
	}
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) EngineOption {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// NewEngine creates an engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Request is a single query.
type Request struct {
	Query string

	// Vector is a precomputed query embedding. When nil the engine's
	// embedder is asked for one.
	Vector []float32
}

// SearchChunks ranks an ad hoc chunk set. It builds a throwaway snapshot;
// callers with a long-lived corpus should use Search with a session
// snapshot instead.
func (e *Engine) SearchChunks(ctx context.Context, query string, chunks []*store.Chunk, cfg config.SearchConfig) (*RankedResult, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	snap, err := session.NewSnapshot(chunks, "", session.OptionsFromConfig(cfg))
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.ErrCodeInvalidInput, err)
	}
	return e.Search(ctx, Request{Query: query}, snap, cfg)
}

// Search ranks the chunks in snap for req. Only an empty query and context
// cancellation before scoring starts are returned as errors; an unavailable
// embedding, malformed constraints and an empty corpus are reported in the
// diagnostics.
func (e *Engine) Search(ctx context.Context, req Request, snap *session.Snapshot, cfg config.SearchConfig) (*RankedResult, error) {
	start := time.Now()
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg)

	run := &pipeline{
		engine: e,
		req:    req,
		snap:   snap,
		cfg:    cfg,
		stage:  StageIdle,
		res:    &RankedResult{Query: req.Query, Entries: []RankedEntry{}},
		mark:   time.Now(),
	}
	if snap != nil {
		run.res.Diagnostics.SnapshotID = snap.ID()
	}
	run.res.Diagnostics.AdaptiveWeights = cfg.UseAdaptiveIntentWeights

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run.classify()

	if snap == nil || snap.Len() == 0 {
		run.res.Diagnostics.EmptyCorpus = true
		run.finish(start)
		return run.res, nil
	}

	run.enter(StageRetrieving)
	if err := run.retrieve(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Past retrieval every stage is pure computation and runs to completion.
	run.enter(StageNormalizing)
	run.normalize()

	run.enter(StageCombining)
	run.combine()

	run.enter(StageFiltering)
	run.filter()

	run.enter(StageSectionReranking)
	run.rerankSections()

	if run.res.Diagnostics.QueryKind.IsNumeric() {
		run.enter(StageNumericReranking)
		run.rerankNumeric()
	}

	run.enter(StageFinalized)
	run.emit()
	run.finish(start)
	return run.res, nil
}

func validateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return ragerrors.InvalidQuery("query is empty")
	}
	return nil
}

func withDefaults(cfg config.SearchConfig) config.SearchConfig {
	d := config.NewConfig().Search
	if cfg.BroadRetrievalK <= 0 {
		cfg.BroadRetrievalK = d.BroadRetrievalK
	}
	if cfg.FinalContextK <= 0 {
		cfg.FinalContextK = d.FinalContextK
	}
	w := cfg.FixedWeights
	if w.Dense < 0 || w.Sparse < 0 || w.Keyword < 0 || w.Dense+w.Sparse+w.Keyword == 0 {
		cfg.FixedWeights = d.FixedWeights
	}
	return cfg
}

// pipeline is the state of one query execution.
type pipeline struct {
	engine *Engine
	req    Request
	snap   *session.Snapshot
	cfg    config.SearchConfig

	stage Stage
	mark  time.Time

	query   lexical.Query
	weights IntentWeights
	vector  []float32
	pool    []*ScoredChunk

	res *RankedResult
}

// enter closes the timing of the current stage and starts the next.
func (p *pipeline) enter(next Stage) {
	now := time.Now()
	if p.stage != StageIdle {
		p.res.Diagnostics.Stages = append(p.res.Diagnostics.Stages, StageTiming{
			Stage:    p.stage,
			Duration: now.Sub(p.mark),
		})
		p.engine.logger.Debug("search_stage",
			slog.String("stage", string(p.stage)),
			slog.Int("pool", len(p.pool)),
			slog.Duration("duration", now.Sub(p.mark)))
	}
	p.stage = next
	p.mark = now
}

func (p *pipeline) classify() {
	d := &p.res.Diagnostics
	var ix *lexical.Index
	if p.snap != nil {
		ix = p.snap.Lexical()
	}

	intent, sig := ClassifyIntent(p.req.Query, ix)
	d.QueryIntent = intent
	for _, t := range sig.TopTerms {
		d.TopTerms = append(d.TopTerms, t.Term)
	}
	fixed := IntentWeights{
		Dense:   p.cfg.FixedWeights.Dense,
		Sparse:  p.cfg.FixedWeights.Sparse,
		Keyword: p.cfg.FixedWeights.Keyword,
	}
	p.weights = SelectWeights(intent, p.cfg.UseAdaptiveIntentWeights, fixed)
	d.Weights = p.weights

	d.QueryKind = DetectKind(p.req.Query)
	if d.QueryKind.IsNumeric() {
		constraints, malformed := ExtractConstraints(p.req.Query)
		d.Constraints = constraints
		for _, err := range malformed {
			d.MalformedConstraints = append(d.MalformedConstraints, fragmentOf(err))
		}
	}
}

// retrieve embeds the query and computes the raw signals. Embedding and
// lexical scoring run concurrently unless the prefilter needs the vector
// to choose candidates first.
func (p *pipeline) retrieve(ctx context.Context) error {
	ix := p.snap.Lexical()
	p.query = ix.Analyze(p.req.Query)

	prefilter := p.snap.Prefilter()
	var embedErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.vector, embedErr = p.embed(gctx)
		return nil
	})
	if prefilter == nil {
		g.Go(func() error {
			p.pool = p.scoreLexical(p.snap.Chunks())
			return nil
		})
	}
	_ = g.Wait()

	if embedErr != nil {
		p.res.Diagnostics.DenseUnavailable = true
		p.res.Diagnostics.DenseError = embedErr.Error()
		p.engine.logger.Warn("dense_signal_unavailable", ragerrors.FormatForLog(embedErr)...)
	}

	if prefilter != nil {
		candidates, err := p.prefilterCandidates(ctx, prefilter)
		if err != nil {
			return err
		}
		p.pool = p.scoreLexical(candidates)
	}

	p.scoreDense()
	p.res.Diagnostics.Candidates = len(p.pool)
	return nil
}

// scoreDense fills DenseRaw for candidates whose embedding matches the query
// width. When no candidate matches, the dense signal counts as unavailable.
func (p *pipeline) scoreDense() {
	if len(p.vector) == 0 {
		return
	}
	d := &p.res.Diagnostics
	scored, chunkDims := 0, 0
	for _, sc := range p.pool {
		if !sc.Chunk.HasEmbedding() {
			continue
		}
		if len(sc.Chunk.Embedding) != len(p.vector) {
			d.DenseDimMismatch++
			chunkDims = len(sc.Chunk.Embedding)
			continue
		}
		sc.DenseRaw = CosineSimilarity(p.vector, sc.Chunk.Embedding)
		scored++
	}
	if d.DenseDimMismatch == 0 {
		return
	}
	p.engine.logger.Warn("dense_dimension_mismatch",
		slog.Int("query_dims", len(p.vector)),
		slog.Int("chunk_dims", chunkDims),
		slog.Int("mismatched", d.DenseDimMismatch),
		slog.Int("scored", scored))
	if scored == 0 && !d.DenseUnavailable {
		err := ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query vector has %d dimensions, corpus embeddings have %d", len(p.vector), chunkDims), nil).
			WithSuggestion("Re-ingest the corpus with the configured embedding model")
		d.DenseUnavailable = true
		d.DenseError = err.Error()
	}
}

func (p *pipeline) embed(ctx context.Context) ([]float32, error) {
	if len(p.req.Vector) > 0 {
		return p.req.Vector, nil
	}
	if p.engine.embedder == nil {
		return nil, ragerrors.EmbeddingUnavailable(fmt.Errorf("no embedder configured"))
	}
	vec, err := p.engine.embedder.Embed(ctx, p.req.Query)
	if err != nil {
		return nil, ragerrors.EmbeddingUnavailable(err)
	}
	if len(vec) == 0 {
		return nil, ragerrors.EmbeddingUnavailable(fmt.Errorf("embedder returned an empty vector"))
	}
	return vec, nil
}

func (p *pipeline) prefilterCandidates(ctx context.Context, pf *store.CandidateIndex) ([]*store.Chunk, error) {
	ids, err := pf.Candidates(ctx, p.req.Query, p.vector, p.cfg.PrefilterLimit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.engine.logger.Warn("prefilter_failed", slog.String("error", err.Error()))
		return p.snap.Chunks(), nil
	}
	chunks := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := p.snap.Chunk(id); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (p *pipeline) scoreLexical(chunks []*store.Chunk) []*ScoredChunk {
	ix := p.snap.Lexical()
	pool := make([]*ScoredChunk, len(chunks))
	for i, c := range chunks {
		pool[i] = &ScoredChunk{
			Chunk:      c,
			SparseRaw:  ix.Score(p.query, c.ID),
			KeywordRaw: ix.KeywordBoost(p.query, c.Content),
		}
	}
	return pool
}

func (p *pipeline) normalize() {
	n := len(p.pool)
	dense, sparse, keyword := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, sc := range p.pool {
		dense[i], sparse[i], keyword[i] = sc.DenseRaw, sc.SparseRaw, sc.KeywordRaw
	}
	dense, sparse, keyword = NormalizeMinMax(dense), NormalizeMinMax(sparse), NormalizeMinMax(keyword)
	for i, sc := range p.pool {
		sc.DenseNorm, sc.SparseNorm, sc.KeywordNorm = dense[i], sparse[i], keyword[i]
	}
}

// combine scores every candidate and keeps the broad pool.
func (p *pipeline) combine() {
	for _, sc := range p.pool {
		sc.Hybrid = Combine(sc.DenseNorm, sc.SparseNorm, sc.KeywordNorm, p.weights)
		sc.Score = sc.Hybrid
	}
	sortByScore(p.pool, scoreOf, idOf)
	if len(p.pool) > p.cfg.BroadRetrievalK {
		p.pool = p.pool[:p.cfg.BroadRetrievalK]
	}
	p.res.Diagnostics.BroadPool = len(p.pool)
}

func (p *pipeline) filter() {
	f := NewContaminationFilter(p.cfg.BibliographyDiscount, p.cfg.MinCaptionLength)
	kept := p.pool[:0]
	for _, sc := range p.pool {
		v := f.Assess(sc.Chunk.Content, sc.Chunk.SourceKind)
		switch {
		case v.Drop:
			p.res.Diagnostics.DroppedContaminated++
			p.engine.logger.Debug("chunk_dropped",
				slog.String("chunk", sc.Chunk.ID),
				slog.String("reason", v.Reason))
			continue
		case v.Discount:
			sc.Discounted = true
			sc.Score *= f.Discount
			p.res.Diagnostics.DiscountedBiblio++
		}
		kept = append(kept, sc)
	}
	p.pool = kept
	sortByScore(p.pool, scoreOf, idOf)
}

func (p *pipeline) rerankSections() {
	RerankBySection(p.pool, applySection, scoreOf, idOf)
}

// applySection records adj and adds it to the score. Discounted chunks
// never gain from the prior so they stay within the discount bound.
func applySection(sc *ScoredChunk, adj float64) {
	if sc.Discounted && adj > 0 {
		adj = 0
	}
	sc.SectionAdjustment = adj
	sc.Score = clamp01(sc.Score + adj)
}

func (p *pipeline) rerankNumeric() {
	d := &p.res.Diagnostics
	if len(d.Constraints) == 0 {
		return
	}
	RerankNumeric(p.pool, d.Constraints)
	d.NumericRerankApplied = true
}

func (p *pipeline) emit() {
	sortRanked(p.pool)
	if len(p.pool) > p.cfg.FinalContextK {
		p.pool = p.pool[:p.cfg.FinalContextK]
	}
	entries := make([]RankedEntry, len(p.pool))
	for i, sc := range p.pool {
		entries[i] = RankedEntry{
			ChunkID:           sc.Chunk.ID,
			FinalScore:        sc.Score,
			NumericMatched:    sc.Matched,
			SectionAdjustment: sc.SectionAdjustment,
			Content:           sc.Chunk.Content,
			SourceKind:        sc.Chunk.SourceKind,
			FigureID:          sc.Chunk.FigureID,
			Dense:             sc.DenseNorm,
			Sparse:            sc.SparseNorm,
			Keyword:           sc.KeywordNorm,
			Hybrid:            sc.Hybrid,
			Discounted:        sc.Discounted,
		}
	}
	p.res.Entries = entries
}

func (p *pipeline) finish(start time.Time) {
	if p.stage != StageIdle {
		p.enter(StageIdle)
	}
	d := &p.res.Diagnostics
	d.Total = time.Since(start)

	p.engine.logger.Info("search_completed",
		slog.String("query_intent", string(d.QueryIntent)),
		slog.String("query_kind", string(d.QueryKind)),
		slog.Int("candidates", d.Candidates),
		slog.Int("results", len(p.res.Entries)),
		slog.Int("dropped", d.DroppedContaminated),
		slog.Bool("dense_unavailable", d.DenseUnavailable),
		slog.Duration("duration", d.Total))

	if p.engine.recorder != nil {
		p.engine.recorder.RecordQuery(telemetry.QueryEvent{
			Query:            p.req.Query,
			Intent:           string(d.QueryIntent),
			Kind:             string(d.QueryKind),
			TopTerms:         d.TopTerms,
			Candidates:       d.Candidates,
			Results:          len(p.res.Entries),
			Dropped:          d.DroppedContaminated,
			DenseUnavailable: d.DenseUnavailable,
			NumericReranked:  d.NumericRerankApplied,
			Latency:          d.Total,
			Timestamp:        start,
		})
	}
}

func scoreOf(sc *ScoredChunk) float64 { return sc.Score }
func idOf(sc *ScoredChunk) string     { return sc.Chunk.ID }

func fragmentOf(err error) string {
	if re, ok := ragerrors.As(err); ok {
		if f, ok := re.Details["fragment"]; ok {
			return f
		}
	}
	return err.Error()
}
