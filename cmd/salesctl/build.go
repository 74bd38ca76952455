package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/propertysales/internal/archive"
	"github.com/JonMunkholm/propertysales/internal/config"
	"github.com/JonMunkholm/propertysales/internal/normalize"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
	"github.com/JonMunkholm/propertysales/internal/sink"
)

// normalizeOptions maps pipeline settings onto normalizer options,
// loading replacement zoning rules when a file is configured.
func normalizeOptions(p config.PipelineConfig) (normalize.Options, error) {
	opts := normalize.Options{
		HectareMarker:  p.HectareMarker,
		FilterFuture:   p.FilterFutureDates,
		FilterEarliest: p.FilterEarliest,
		Earliest:       p.EarliestDate,
		Deduplicate:    p.Deduplicate,
		RemapZoning:    p.RemapZoning,
		ZoningRules:    normalize.DefaultZoningRules(),
	}

	if p.ZoningRulesFile != "" {
		rules, err := normalize.LoadZoningRules(p.ZoningRulesFile)
		if err != nil {
			return normalize.Options{}, err
		}
		opts.ZoningRules = rules
	}
	return opts, nil
}

// buildOptions assembles a run from cfg. The returned cleanup releases the
// database pool, if one was opened.
func buildOptions(ctx context.Context, cfg *config.Config, metrics *pipeline.Metrics) (pipeline.Options, func(), error) {
	cleanup := func() {}

	norm, err := normalizeOptions(cfg.Pipeline)
	if err != nil {
		return pipeline.Options{}, cleanup, err
	}

	sinks := []sink.Sink{sink.CSVFile{Path: cfg.Output.Path}}
	if cfg.Output.SQLitePath != "" {
		sinks = append(sinks, sink.SQLite{Path: cfg.Output.SQLitePath, Table: cfg.Output.SQLiteTable})
	}
	if cfg.Database.URL != "" {
		pool, err := sink.NewPool(ctx, cfg.Database.URL,
			int32(cfg.Database.MaxConns),
			int32(cfg.Database.MinConns),
			cfg.Database.MaxConnLifetime,
		)
		if err != nil {
			return pipeline.Options{}, cleanup, fmt.Errorf("postgres sink: %w", err)
		}
		cleanup = pool.Close
		sinks = append(sinks, sink.Postgres{DB: pool, Table: cfg.Database.Table})
	}

	opts := pipeline.Options{
		ArchiveDir: cfg.Pipeline.ArchiveDir,
		Unpacker: archive.Unpacker{
			ArchiveExt:  cfg.Pipeline.ArchiveExtension,
			DataExt:     cfg.Pipeline.DataExtension,
			Workers:     cfg.Pipeline.Workers,
			LenientUTF8: cfg.Pipeline.LenientUTF8,
		},
		Normalize: norm,
		Sinks:     sinks,
		Metrics:   metrics,
		Logger:    slog.Default(),
	}
	if cfg.Output.Bundle {
		opts.BundleDir = cfg.Output.BundleDir
	}
	return opts, cleanup, nil
}
