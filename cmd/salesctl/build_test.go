package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/propertysales/internal/archive"
	"github.com/JonMunkholm/propertysales/internal/config"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/JonMunkholm/propertysales/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			ArchiveDir:        "data",
			ArchiveExtension:  ".zip",
			DataExtension:     ".dat",
			Workers:           2,
			HectareMarker:     "H",
			FilterFutureDates: true,
			FilterEarliest:    true,
			EarliestDate:      time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
			Deduplicate:       true,
			RemapZoning:       true,
		},
		Output: config.OutputConfig{Path: "out.csv", BundleDir: "dist", SQLiteTable: "property_sales"},
	}
}

func TestNormalizeOptions_LoadsZoningFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zoning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - from: B1
    to: E1
    before: "2022-01-01"
`), 0o644))

	p := testConfig().Pipeline
	p.ZoningRulesFile = path

	opts, err := normalizeOptions(p)
	require.NoError(t, err)
	require.Len(t, opts.ZoningRules, 1)
	assert.Equal(t, "B1", opts.ZoningRules[0].From)
	assert.Equal(t, "H", opts.HectareMarker)
	assert.True(t, opts.Deduplicate)
}

func TestNormalizeOptions_MissingZoningFile(t *testing.T) {
	p := testConfig().Pipeline
	p.ZoningRulesFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := normalizeOptions(p)
	assert.Error(t, err)
}

func TestBuildOptions_Sinks(t *testing.T) {
	cfg := testConfig()
	cfg.Output.SQLitePath = "sales.db"
	cfg.Output.Bundle = true

	opts, cleanup, err := buildOptions(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, opts.Sinks, 2)
	assert.Equal(t, sink.CSVFile{Path: "out.csv"}, opts.Sinks[0])
	assert.Equal(t, sink.SQLite{Path: "sales.db", Table: "property_sales"}, opts.Sinks[1])
	assert.Equal(t, "dist", opts.BundleDir)
	assert.Equal(t, archive.Unpacker{ArchiveExt: ".zip", DataExt: ".dat", Workers: 2}, opts.Unpacker)
}

func TestBuildOptions_BadDatabaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "::not a url::"

	_, cleanup, err := buildOptions(context.Background(), cfg, nil)
	defer cleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres sink")
}

func TestPrintSummary(t *testing.T) {
	res := &pipeline.Result{
		Parse: record.Stats{Lines: 10, Current: 6, Archived: 2, ShortCurrent: 1},
		Rows:  7,
		Sinks: []pipeline.SinkOutcome{
			{Name: "csv", Status: pipeline.SinkWritten},
			{Name: "postgres", Status: pipeline.SinkFailed, Error: "connection refused"},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "records:         6 current, 2 archived")
	assert.Contains(t, out, "dropped short:   1")
	assert.Contains(t, out, "rows:            7")
	assert.True(t, strings.Contains(out, "postgres") && strings.Contains(out, "connection refused"))
}
