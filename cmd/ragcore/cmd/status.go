package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/output"
	"github.com/gravis-app/ragcore/internal/store"
	"github.com/gravis-app/ragcore/internal/telemetry"
)

type statusOptions struct {
	json bool
	days int
}

type statusReport struct {
	Store     string            `json:"store"`
	Corpus    *store.Stats      `json:"corpus,omitempty"`
	Telemetry *telemetry.Report `json:"telemetry,omitempty"`
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus statistics and recent query telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), cmd, g, cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&opts.days, "days", 7, "Telemetry window in days")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *config.Config, opts statusOptions) error {
	out := output.New(cmd.OutOrStdout(), g.noColor)
	report := statusReport{Store: cfg.Store.Path}

	st, err := openExistingStore(cfg)
	if err != nil {
		return err
	}
	report.Corpus, err = st.Stats(ctx)
	_ = st.Close()
	if err != nil {
		return err
	}

	if path := telemetryPath(cfg.Store.Path); fileExists(path) {
		ms, err := telemetry.OpenSQLiteMetricsStore(path)
		if err != nil {
			return err
		}
		days := max(opts.days, 1)
		now := time.Now()
		from := now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly)
		report.Telemetry, err = ms.Report(from, now.Format(time.DateOnly), 10)
		_ = ms.Close()
		if err != nil {
			return err
		}
	}

	if opts.json {
		return out.JSON(report)
	}
	out.Stats(report.Store, report.Corpus)
	if report.Telemetry != nil {
		out.Telemetry(report.Telemetry)
	}
	return nil
}
