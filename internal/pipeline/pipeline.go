// Package pipeline wires the stages of one extraction run together:
// unpack archives, parse and link lines, normalize records, write sinks.
//
// Every count a run produces is returned in Result rather than kept in
// package state, so runs compose and can execute side by side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/propertysales/internal/archive"
	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/normalize"
	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/JonMunkholm/propertysales/internal/sink"
)

// Run statuses used for metrics.
const (
	StatusOK        = "ok"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SinkStatus is the outcome of one sink.
type SinkStatus string

const (
	SinkWritten      SinkStatus = "written"
	SinkSkippedEmpty SinkStatus = "skipped-empty"
	SinkFailed       SinkStatus = "failed"
)

// SinkOutcome reports what happened to one sink.
type SinkOutcome struct {
	Name   string     `json:"name"`
	Status SinkStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Options configures a run.
type Options struct {
	ArchiveDir string
	Unpacker   archive.Unpacker
	Normalize  normalize.Options
	Sinks      []sink.Sink

	// BundleDir, when set, zips the CSV sink's output there after a
	// successful write.
	BundleDir string

	Metrics *Metrics
	Logger  *slog.Logger
}

// Result summarises a run.
type Result struct {
	Archive   archive.Result     `json:"archive"`
	Parse     record.Stats       `json:"parse"`
	Normalize normalize.Stats    `json:"normalize"`
	Sinks     []SinkOutcome      `json:"sinks"`
	Bundle    *sink.BundleResult `json:"bundle,omitempty"`
	Rows      int                `json:"rows"`
	Empty     bool               `json:"empty"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Run executes one extraction. It returns an error when ctx is cancelled
// or a sink fails; in the sink case the Result is still returned and every
// sink has been attempted. An empty table is not an error.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	logger := logging.OrDefault(opts.Logger)

	rows, res, err := extract(ctx, opts, logger)
	if err != nil {
		opts.Metrics.observe(nil, statusFor(err))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		opts.Metrics.observe(nil, StatusCancelled)
		return nil, err
	}

	res.Rows = len(rows)
	res.Empty = len(rows) == 0
	if res.Empty {
		logger.Warn("no rows survived normalization, nothing will be written")
	}

	var sinkErrs []error
	for _, s := range opts.Sinks {
		out := SinkOutcome{Name: s.Name(), Status: SinkWritten}

		err := s.Write(ctx, rows)
		switch {
		case err == nil:
			logger.Info("sink written", "sink", out.Name, "rows", len(rows))
			if csv, ok := s.(sink.CSVFile); ok && opts.BundleDir != "" {
				b, berr := sink.Bundle(csv.Path, opts.BundleDir, start)
				if berr != nil {
					sinkErrs = append(sinkErrs, fmt.Errorf("bundle: %w", berr))
					logger.Error("bundle failed", "error", berr)
				} else {
					res.Bundle = &b
					logger.Info("bundle written", "path", b.Dated)
				}
			}
		case errors.Is(err, sink.ErrEmptyTable):
			out.Status = SinkSkippedEmpty
		case ctx.Err() != nil:
			opts.Metrics.observe(nil, StatusCancelled)
			return nil, ctx.Err()
		default:
			out.Status = SinkFailed
			out.Error = err.Error()
			sinkErrs = append(sinkErrs, fmt.Errorf("sink %s: %w", out.Name, err))
			logger.Error("sink failed", "sink", out.Name, "error", err)
		}
		res.Sinks = append(res.Sinks, out)
	}

	res.Duration = time.Since(start)

	status := StatusOK
	switch {
	case len(sinkErrs) > 0:
		status = StatusFailed
	case res.Empty:
		status = StatusEmpty
	}
	opts.Metrics.observe(res, status)

	logger.Info("run complete",
		"status", status,
		"lines", res.Parse.Lines,
		"records", res.Parse.Parsed(),
		"dropped", res.Parse.Dropped(),
		"future_dropped", res.Normalize.FutureDropped,
		"pre_boundary_dropped", res.Normalize.PreBoundaryDropped,
		"rows", res.Rows,
		"duration", res.Duration,
	)

	if len(sinkErrs) > 0 {
		return res, errors.Join(sinkErrs...)
	}
	return res, nil
}

// extract runs the in-memory stages.
func extract(ctx context.Context, opts Options, logger *slog.Logger) ([]record.Canonical, *Result, error) {
	u := opts.Unpacker
	if u.Logger == nil {
		u.Logger = logger
	}
	unpacked, err := u.Unpack(ctx, opts.ArchiveDir)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack: %w", err)
	}

	parser := record.Parser{Logger: logger}
	raws, parseStats, err := parser.Parse(ctx, unpacked.Lines)
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}

	// Lines are no longer needed; keep only the counts.
	summary := *unpacked
	summary.Lines = nil

	n := normalize.New(opts.Normalize, logger)
	rows, normStats := n.Normalize(raws)

	return rows, &Result{
		Archive:   summary,
		Parse:     parseStats,
		Normalize: normStats,
	}, nil
}

func statusFor(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusCancelled
	}
	return StatusFailed
}
