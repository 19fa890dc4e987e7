package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/output"
	"github.com/gravis-app/ragcore/internal/search"
)

type searchOptions struct {
	limit   int
	format  string
	explain bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank corpus passages for a question",
		Long: `Rank the stored chunks for a question and print the best ones.

Examples:
  ragcore search "what compression ratio keeps precision above 90%?"
  ragcore search "decoder architecture" --limit 3 --explain
  ragcore search "vision tokens" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd, g, cfg, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default search.final_context_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show per-result signals and pipeline diagnostics")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *config.Config, query string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	applyLimit(&cfg.Search, opts.limit)

	rt, err := openBackend(ctx, cfg, backendOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", cfg.Search.FinalContextK))

	res, err := rt.engine().Search(ctx, search.Request{Query: query}, rt.session.Current(), cfg.Search)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout(), g.noColor)
	if format == output.FormatJSON {
		return out.JSON(res)
	}
	out.Result(res, opts.explain)
	return nil
}

// applyLimit overrides FinalContextK, widening the broad pool if needed.
func applyLimit(sc *config.SearchConfig, limit int) {
	if limit <= 0 {
		return
	}
	sc.FinalContextK = limit
	if sc.BroadRetrievalK < limit {
		sc.BroadRetrievalK = limit
	}
}
