package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	rerrors "github.com/gravis-app/ragcore/internal/errors"
	"github.com/gravis-app/ragcore/internal/output"
	"github.com/gravis-app/ragcore/internal/store"
)

type ingestOptions struct {
	noEmbed bool
	prune   bool
	wait    time.Duration
}

func newIngestCmd(g *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <corpus-file>...",
		Short: "Load pre-chunked passages into the corpus",
		Long: `Load chunks from YAML or JSON corpus files into the chunk database.

Chunks without an embedding are embedded with the configured provider
unless --no-embed is given. Existing chunks with the same ID are replaced.

Examples:
  ragcore ingest paper.yaml
  ragcore ingest paper.yaml --prune
  ragcore ingest *.json --no-embed`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), cmd, g, cfg, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noEmbed, "no-embed", false, "Store chunks without computing missing embeddings")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Remove stored chunks of the ingested documents that are absent from the files")
	cmd.Flags().DurationVar(&opts.wait, "wait", 10*time.Second, "How long to wait for another ingest to finish")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *config.Config, files []string, opts ingestOptions) error {
	out := output.New(cmd.OutOrStdout(), g.noColor)

	var chunks []*store.Chunk
	seen := make(map[string]string)
	for _, f := range files {
		loaded, err := store.LoadCorpusFile(f)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		for _, c := range loaded {
			if prev, dup := seen[c.ID]; dup {
				return fmt.Errorf("chunk %q appears in both %s and %s", c.ID, prev, f)
			}
			seen[c.ID] = f
		}
		chunks = append(chunks, loaded...)
	}
	if len(chunks) == 0 {
		out.Warning("no chunks found")
		return nil
	}

	if !opts.noEmbed {
		prog := output.NewProgress(cmd.OutOrStdout(), "embedding", g.noColor)
		n, err := embedMissing(ctx, cfg, chunks, prog)
		if err != nil {
			return err
		}
		if n > 0 {
			out.Successf("embedded %d chunks", n)
		}
	}

	lock := store.NewIngestLock(cfg.Store.Path)
	lockCtx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()
	if err := lock.Acquire(lockCtx); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	st, err := store.NewSQLiteChunkStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if opts.prune {
		removed, err := pruneDocuments(ctx, st, chunks)
		if err != nil {
			return err
		}
		if removed > 0 {
			out.Successf("removed %d stale chunks", removed)
		}
	}

	if err := writeChunks(ctx, st, chunks); err != nil {
		return err
	}
	slog.Info("ingest_complete",
		slog.Int("chunks", len(chunks)),
		slog.Int("files", len(files)),
		slog.String("store", cfg.Store.Path))
	out.Successf("ingested %d chunks into %s", len(chunks), cfg.Store.Path)
	return nil
}

// embedMissing fills in embeddings for chunks that have none, one batch at
// a time, and returns how many were embedded.
func embedMissing(ctx context.Context, cfg *config.Config, chunks []*store.Chunk, prog output.Progress) (int, error) {
	var (
		todo  []*store.Chunk
		texts []string
	)
	for _, c := range chunks {
		if !c.HasEmbedding() {
			todo = append(todo, c)
			texts = append(texts, c.Content)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	embedder, err := embed.NewFromConfig(ctx, cfg)
	if err != nil {
		return 0, err
	}
	if embedder == nil {
		return 0, nil
	}
	defer func() { _ = embedder.Close() }()

	if err := prog.Start(ctx); err != nil {
		return 0, err
	}
	defer func() { _ = prog.Stop() }()

	for start := 0; start < len(texts); start += embed.DefaultBatchSize {
		end := min(start+embed.DefaultBatchSize, len(texts))
		vecs, err := embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		for i, v := range vecs {
			todo[start+i].Embedding = v
		}
		prog.Update(end, len(texts))
	}
	slog.Debug("chunks_embedded",
		slog.Int("count", len(todo)),
		slog.String("model", embedder.ModelName()))
	return len(todo), nil
}

// ingestRetry covers a concurrent writer holding the database past its
// busy timeout.
var ingestRetry = rerrors.RetryConfig{
	MaxRetries:   3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

// corpusWriter is the part of the chunk store ingest writes through.
type corpusWriter interface {
	All(ctx context.Context) ([]*store.Chunk, error)
	Put(ctx context.Context, chunks []*store.Chunk) error
	Delete(ctx context.Context, ids []string) error
}

// writeChunks stores chunks, retrying while the database is locked.
func writeChunks(ctx context.Context, w corpusWriter, chunks []*store.Chunk) error {
	return rerrors.Retry(ctx, ingestRetry, func() error {
		return w.Put(ctx, chunks)
	})
}

// pruneDocuments deletes stored chunks of the incoming documents whose IDs
// are not among the incoming chunks.
func pruneDocuments(ctx context.Context, w corpusWriter, incoming []*store.Chunk) (int, error) {
	docs := make(map[string]bool)
	keep := make(map[string]bool, len(incoming))
	for _, c := range incoming {
		keep[c.ID] = true
		if c.DocumentID != "" {
			docs[c.DocumentID] = true
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	existing, err := w.All(ctx)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, c := range existing {
		if docs[c.DocumentID] && !keep[c.ID] {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = rerrors.Retry(ctx, ingestRetry, func() error {
		return w.Delete(ctx, stale)
	})
	return len(stale), err
}
