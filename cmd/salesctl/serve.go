package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/propertysales/internal/fetch"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
	"github.com/JonMunkholm/propertysales/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction run API",
	Long: `Start the HTTP service. POST /api/runs starts an extraction in the
background, GET /api/runs/{id} reports it and /metrics exposes Prometheus
metrics. With SERVER_REFRESH_INTERVAL set, new archives are downloaded and
extracted on that interval.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides SERVER_PORT)")
}

// refreshJob downloads any new archives, then starts an extraction run.
func refreshJob(srv *web.Server) pipeline.Job {
	f := cfg.Fetch
	client := fetch.NewClient(f.BaseURL, f.RetryAttempts, f.RetryDelay, f.Timeout, f.RateLimitRPS, nil)

	return func(ctx context.Context) error {
		targets := fetch.Plan(time.Now(), f.Years, f.RecentDaysExcluded)
		rep := client.Download(ctx, targets, cfg.Pipeline.ArchiveDir, true)
		slog.Info("refresh download finished",
			"downloaded", len(rep.Downloaded),
			"skipped", len(rep.Skipped),
			"failed", len(rep.Failed),
		)
		if len(rep.Downloaded) == 0 {
			return nil
		}

		run, err := srv.StartRun(ctx)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		slog.Info("refresh run started", "run_id", run.ID)
		return nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	ctx := cmd.Context()
	opts, cleanup, err := buildOptions(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := web.NewServer(cfg, func(runCtx context.Context) (*pipeline.Result, error) {
		return pipeline.Run(runCtx, opts)
	}, reg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if cfg.Server.RefreshInterval > 0 {
		go pipeline.Schedule(ctx, "refresh", cfg.Server.RefreshInterval, refreshJob(srv), nil)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
