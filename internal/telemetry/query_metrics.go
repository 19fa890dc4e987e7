package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TermCount is a query term and how often it was a top term.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Counters are additive per-day totals.
type Counters struct {
	Queries          int64 `json:"queries"`
	ZeroResults      int64 `json:"zero_results"`
	Dropped          int64 `json:"dropped"`
	DenseUnavailable int64 `json:"dense_unavailable"`
	NumericReranked  int64 `json:"numeric_reranked"`
}

func (c *Counters) add(o Counters) {
	c.Queries += o.Queries
	c.ZeroResults += o.ZeroResults
	c.Dropped += o.Dropped
	c.DenseUnavailable += o.DenseUnavailable
	c.NumericReranked += o.NumericReranked
}

// QueryMetricsSnapshot is a point-in-time copy of the aggregates.
type QueryMetricsSnapshot struct {
	IntentCounts        map[string]int64        `json:"intent_counts"`
	KindCounts          map[string]int64        `json:"kind_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Counters            Counters                `json:"counters"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns zero-result queries as a share of all.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.Counters.Queries == 0 {
		return 0
	}
	return float64(s.Counters.ZeroResults) / float64(s.Counters.Queries) * 100
}

// DenseUnavailablePercentage returns lexical-only queries as a share of all.
func (s *QueryMetricsSnapshot) DenseUnavailablePercentage() float64 {
	if s.Counters.Queries == 0 {
		return 0
	}
	return float64(s.Counters.DenseUnavailable) / float64(s.Counters.Queries) * 100
}

// MetricsDelta is what changed since the previous flush.
type MetricsDelta struct {
	Date        string
	Intents     map[string]int64
	Kinds       map[string]int64
	Terms       map[string]int64
	Latencies   map[LatencyBucket]int64
	Counters    Counters
	ZeroResults []ZeroResultQuery
}

// ZeroResultQuery is a query that returned nothing.
type ZeroResultQuery struct {
	Query     string
	Timestamp time.Time
}

func (d *MetricsDelta) empty() bool {
	return d.Counters.Queries == 0
}

// MetricsStore persists flushed deltas.
type MetricsStore interface {
	SaveDelta(d MetricsDelta) error
	Close() error
}

// QueryMetricsConfig configures the aggregator.
type QueryMetricsConfig struct {
	TopTermsCapacity      int
	ZeroResultsCapacity   int
	RecentQueriesCapacity int

	// FlushInterval of 0 disables background flushing.
	FlushInterval time.Duration
}

func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics aggregates query events in memory and periodically flushes
// the increments to a MetricsStore. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	intents     map[string]int64
	kinds       map[string]int64
	latencies   map[LatencyBucket]int64
	counters    Counters
	topTerms    *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	recent      *lru.Cache[string, struct{}]
	repeats     int64
	startTime   time.Time

	pending MetricsDelta

	store  MetricsStore
	config QueryMetricsConfig
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

var _ Recorder = (*QueryMetrics)(nil)

// NewQueryMetrics creates an aggregator. A nil store keeps metrics in
// memory only.
func NewQueryMetrics(store MetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	d := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = d.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = d.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = d.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		intents:     make(map[string]int64),
		kinds:       make(map[string]int64),
		latencies:   make(map[LatencyBucket]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recent:      recent,
		startTime:   time.Now(),
		store:       store,
		config:      cfg,
		stopCh:      make(chan struct{}),
	}
	m.resetPending()

	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) resetPending() {
	m.pending = MetricsDelta{
		Intents:   make(map[string]int64),
		Kinds:     make(map[string]int64),
		Terms:     make(map[string]int64),
		Latencies: make(map[LatencyBucket]int64),
	}
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// RecordQuery folds one event into the aggregates.
func (m *QueryMetrics) RecordQuery(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	c := Counters{Queries: 1, Dropped: int64(ev.Dropped)}
	if ev.IsZeroResult() {
		c.ZeroResults = 1
		m.zeroResults.Add(ev.Query)
		m.pending.ZeroResults = append(m.pending.ZeroResults, ZeroResultQuery{Query: ev.Query, Timestamp: ev.Timestamp})
	}
	if ev.DenseUnavailable {
		c.DenseUnavailable = 1
	}
	if ev.NumericReranked {
		c.NumericReranked = 1
	}
	m.counters.add(c)
	m.pending.Counters.add(c)

	m.intents[ev.Intent]++
	m.pending.Intents[ev.Intent]++
	m.kinds[ev.Kind]++
	m.pending.Kinds[ev.Kind]++

	bucket := LatencyToBucket(ev.Latency)
	m.latencies[bucket]++
	m.pending.Latencies[bucket]++

	for _, term := range ev.TopTerms {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.Terms[term]++
	}

	h := hashQuery(ev.Query)
	if _, ok := m.recent.Get(h); ok {
		m.repeats++
	}
	m.recent.Add(h, struct{}{})
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot copies the current aggregates. Top terms are ordered by count,
// then alphabetically.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryMetricsSnapshot{
		IntentCounts:        maps.Clone(m.intents),
		KindCounts:          maps.Clone(m.kinds),
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		Counters:            m.counters,
		ExactRepeatCount:    m.repeats,
		Since:               m.startTime,
	}
}

// Flush writes the increments recorded since the last successful flush.
// On failure the increments are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	delta := m.pending
	m.resetPending()
	m.mu.Unlock()

	if delta.empty() {
		return nil
	}
	delta.Date = time.Now().Format("2006-01-02")
	if err := m.store.SaveDelta(delta); err != nil {
		m.mu.Lock()
		m.mergePending(delta)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *QueryMetrics) mergePending(d MetricsDelta) {
	for k, v := range d.Intents {
		m.pending.Intents[k] += v
	}
	for k, v := range d.Kinds {
		m.pending.Kinds[k] += v
	}
	for k, v := range d.Terms {
		m.pending.Terms[k] += v
	}
	for k, v := range d.Latencies {
		m.pending.Latencies[k] += v
	}
	m.pending.Counters.add(d.Counters)
	m.pending.ZeroResults = append(d.ZeroResults, m.pending.ZeroResults...)
}

// Close stops background flushing and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
