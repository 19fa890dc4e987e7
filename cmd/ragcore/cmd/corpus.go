package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	rerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/session"
	"github.com/gravis-app/ragcore/internal/store"
	"github.com/gravis-app/ragcore/internal/telemetry"
)

// backend bundles what search and serve share: the opened store, a loaded
// session, the query embedder and the telemetry sinks.
type backend struct {
	cfg      *config.Config
	store    *store.SQLiteChunkStore
	session  *session.Session
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics
	prom     *telemetry.PrometheusRecorder
}

type backendOptions struct {
	withPrometheus bool
}

func openExistingStore(cfg *config.Config) (*store.SQLiteChunkStore, error) {
	if !fileExists(cfg.Store.Path) {
		return nil, rerrors.New(rerrors.ErrCodeEmptyCorpus,
			fmt.Sprintf("no corpus at %s", cfg.Store.Path), nil).
			WithSuggestion("Run: ragcore ingest <corpus.yaml>")
	}
	return store.NewSQLiteChunkStore(cfg.Store.Path)
}

func openBackend(ctx context.Context, cfg *config.Config, opts backendOptions) (*backend, error) {
	st, err := openExistingStore(cfg)
	if err != nil {
		return nil, err
	}
	rt := &backend{cfg: cfg, store: st}

	rt.session = session.New(st, session.OptionsFromConfig(cfg.Search))
	if _, err := rt.session.Reload(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	rt.embedder, err = embed.NewFromConfig(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Telemetry.Enabled {
		ms, err := telemetry.OpenSQLiteMetricsStore(telemetryPath(cfg.Store.Path))
		if err != nil {
			slog.Warn("telemetry_store_unavailable", slog.String("error", err.Error()))
		} else {
			rt.metrics = telemetry.NewQueryMetrics(ms, telemetry.DefaultQueryMetricsConfig())
		}
	}
	if opts.withPrometheus {
		rt.prom = telemetry.NewPrometheusRecorder()
	}
	return rt, nil
}

// engine builds a search engine recording to every configured sink.
func (rt *backend) engine() *search.Engine {
	var recorders []telemetry.Recorder
	if rt.metrics != nil {
		recorders = append(recorders, rt.metrics)
	}
	if rt.prom != nil {
		recorders = append(recorders, rt.prom)
	}
	opts := []search.EngineOption{search.WithRecorder(telemetry.Multi(recorders...))}
	if rt.embedder != nil {
		opts = append(opts, search.WithEmbedder(rt.embedder))
	}
	return search.NewEngine(opts...)
}

// Close flushes telemetry and releases the embedder and store.
func (rt *backend) Close() {
	if rt.metrics != nil {
		if err := rt.metrics.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	if rt.embedder != nil {
		_ = rt.embedder.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
