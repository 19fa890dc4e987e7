// Package cmd provides the CLI commands for ragcore.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/logging"
	"github.com/gravis-app/ragcore/internal/profiling"
	"github.com/gravis-app/ragcore/pkg/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dir       string
	storePath string
	debug     bool
	noColor   bool
	profile   profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the ragcore CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "ragcore",
		Short: "Hybrid retrieval and reranking over a chunked document corpus",
		Long: `ragcore ranks pre-chunked document passages for a question.

It blends dense (embedding) similarity, BM25 and keyword overlap, drops
bibliography and OCR noise, prefers abstracts and results sections, and
reranks by numeric constraints such as "above 90%".

Load a corpus with 'ragcore ingest', query it with 'ragcore search', or
expose it to MCP clients with 'ragcore serve'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.start,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return g.stop()
		},
	}
	cmd.SetVersionTemplate("ragcore version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "Project directory holding .ragcore.yaml")
	pf.StringVar(&g.storePath, "store", "", "Chunk database path (overrides store.path)")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging to "+logging.DefaultLogDir())
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&g.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	pf.StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newEvalCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (g *globalOptions) start(cmd *cobra.Command, _ []string) error {
	switch {
	case g.debug:
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	case cmd.Name() != "serve":
		// CLI commands log to the file only; serve sets up its own.
		if logger, cleanup, err := logging.Setup(logging.DefaultConfig()); err == nil {
			g.loggingCleanup = cleanup
			slog.SetDefault(logger)
		}
	}

	if g.profile.Enabled() {
		p, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = p
	}
	return nil
}

func (g *globalOptions) stop() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// loadConfig resolves the effective configuration, applying --store.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	dir := g.dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}
	return cfg, nil
}

// telemetryPath places the telemetry database next to the chunk store.
func telemetryPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), "telemetry.db")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
