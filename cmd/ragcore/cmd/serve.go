package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/logging"
	"github.com/gravis-app/ragcore/internal/mcp"
	"github.com/gravis-app/ragcore/internal/watcher"
)

type serveOptions struct {
	metricsAddr string
	noWatch     bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the corpus to MCP clients over stdio",
		Long: `Start an MCP server on stdin/stdout exposing the 'search' and
'corpus_status' tools.

The chunk database is watched: a finished 'ragcore ingest' is picked up
without restarting. Stdout carries only JSON-RPC, so logs go to the log
file. With --metrics-addr, Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if opts.metricsAddr != "" {
				cfg.Telemetry.MetricsAddr = opts.metricsAddr
			}
			return runServe(cmd.Context(), g, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload when the chunk database changes")

	return cmd
}

func runServe(ctx context.Context, g *globalOptions, cfg *config.Config, opts serveOptions) error {
	if !g.debug {
		cleanup, err := logging.SetupServeMode(cfg.Server.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		defer cleanup()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openBackend(ctx, cfg, backendOptions{withPrometheus: cfg.Telemetry.MetricsAddr != ""})
	if err != nil {
		slog.Error("serve_startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer rt.Close()

	srv, err := mcp.NewServer(rt.engine(), rt.session, rt.embedder, cfg)
	if err != nil {
		return err
	}
	srv.SetMetrics(rt.metrics)

	debounce, err := cfg.WatchDebounce()
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	serveCtx, cancelServe := context.WithCancel(gctx)
	defer cancelServe()

	if !opts.noWatch {
		w, err := watcher.New([]string{cfg.Store.Path}, watcher.Options{DebounceWindow: debounce})
		if err != nil {
			return err
		}
		grp.Go(func() error {
			return w.Run(serveCtx, watcher.ReloadSession(rt.session))
		})
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.prom.Handler())
		hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		grp.Go(func() error {
			slog.Info("metrics_server_starting", slog.String("addr", addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	grp.Go(func() error {
		defer cancelServe()
		return srv.Serve(serveCtx)
	})

	return grp.Wait()
}
