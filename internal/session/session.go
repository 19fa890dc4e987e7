package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravis-app/ragcore/internal/store"
)

// Source supplies corpus contents. store.ChunkStore satisfies it.
type Source interface {
	All(ctx context.Context) ([]*store.Chunk, error)
	Version(ctx context.Context) (string, error)
}

// Session owns the current snapshot of one corpus.
type Session struct {
	source  Source
	opts    Options
	current atomic.Pointer[Snapshot]

	// rebuildMu serializes rebuilds; readers never take it.
	rebuildMu sync.Mutex
}

// New creates a session. Call Reload before the first query.
func New(source Source, opts Options) *Session {
	return &Session{source: source, opts: opts}
}

// Current returns the published snapshot, or nil before the first Reload.
func (s *Session) Current() *Snapshot {
	return s.current.Load()
}

// Swap publishes snap and returns the previous snapshot. In-flight queries
// holding the previous one keep using it.
func (s *Session) Swap(snap *Snapshot) *Snapshot {
	return s.current.Swap(snap)
}

// Reload rebuilds the snapshot if the source version changed. It reports
// whether a new snapshot was published.
func (s *Session) Reload(ctx context.Context) (bool, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	version, err := s.source.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read corpus version: %w", err)
	}
	if cur := s.current.Load(); cur != nil && cur.CorpusVersion() == version {
		return false, nil
	}

	start := time.Now()
	chunks, err := s.source.All(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load corpus: %w", err)
	}

	snap, err := NewSnapshot(chunks, version, s.opts)
	if err != nil {
		return false, err
	}
	s.current.Store(snap)

	slog.Info("snapshot_published",
		slog.String("snapshot", snap.ID()),
		slog.String("corpus_version", version),
		slog.Int("chunks", snap.Len()),
		slog.Bool("prefilter", snap.Prefilter() != nil),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}
