package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/mcp"
	"github.com/gravis-app/ragcore/internal/output"
	"github.com/gravis-app/ragcore/internal/validation"
)

func newEvalCmd(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Run relevance checks against the corpus",
		Long: `Run the questions of a query file against the stored corpus and check
that the expected chunks are retrieved and excluded ones are not.

Tier 1 and negative checks gate the exit status; tier 2 checks are
reported only. Eval queries are not recorded in telemetry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runEval(cmd.Context(), cmd, g, cfg, args[0], asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *config.Config, path string, asJSON bool) error {
	queries, err := validation.LoadQueries(path)
	if err != nil {
		return err
	}

	cfg.Telemetry.Enabled = false
	rt, err := openBackend(ctx, cfg, backendOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := mcp.NewServer(rt.engine(), rt.session, rt.embedder, cfg)
	if err != nil {
		return err
	}
	res := validation.NewValidator(srv).RunAll(ctx, queries)

	out := output.New(cmd.OutOrStdout(), g.noColor)
	if asJSON {
		if err := out.JSON(res); err != nil {
			return err
		}
	} else {
		for _, group := range []struct {
			name    string
			results []validation.TestResult
		}{{"tier 1", res.Tier1}, {"tier 2", res.Tier2}, {"negative", res.Negative}} {
			for _, tr := range group.results {
				line := fmt.Sprintf("%s %s %s", group.name, tr.Spec.ID, tr.Spec.Name)
				if tr.Passed {
					out.Success(line)
					continue
				}
				detail := "got [" + strings.Join(tr.TopResults, ", ") + "]"
				if len(tr.Leaked) > 0 {
					detail += ", leaked [" + strings.Join(tr.Leaked, ", ") + "]"
				}
				if tr.Error != "" {
					detail = tr.Error
				}
				out.Error(line + ": " + detail)
			}
		}
		out.Successf("tier 1 %d/%d, tier 2 %d/%d, negative %d/%d (%s, %d chunks)",
			res.Tier1Pass, len(res.Tier1), res.Tier2Pass, len(res.Tier2),
			res.NegPass, len(res.Negative), res.Embedder, res.Chunks)
	}

	if !res.Passed() {
		return fmt.Errorf("relevance checks failed")
	}
	return nil
}
