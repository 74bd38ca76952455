package pipeline

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/normalize"
	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/JonMunkholm/propertysales/internal/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	currentLine = "B;010;12345;1;20240101 01:02;;;12;SMITH ST;NEWTOWN;2042;450;M;20230315;20230401;1250000;R2;R;RESIDENCE;;;;;AB123456;"
	linkedC     = "C;010;12345;1;x;LOT 5 DP 123456;"
	archived    = "B;020;V;;777;;3;KING ST;SYDNEY;2000;15/03/1995;250000;LOT 1 DP 1;2.5;H;;;R2"
)

func writeArchive(t *testing.T, dir, name string, members map[string]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range members {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func testOptions(t *testing.T, dir string, sinks ...sink.Sink) Options {
	t.Helper()
	norm := normalize.DefaultOptions()
	norm.Now = func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	return Options{
		ArchiveDir: dir,
		Normalize:  norm,
		Sinks:      sinks,
		Logger:     logging.Discard(),
	}
}

func readCSV(t *testing.T, path string) []map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	var rows []map[string]string
	for _, rec := range recs[1:] {
		row := make(map[string]string, len(rec))
		for i, col := range recs[0] {
			row[col] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func TestRun_CurrentRecordLinked(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "2023.zip", map[string]string{"week.dat": linkedC + "\n" + currentLine + "\n"})
	out := filepath.Join(t.TempDir(), "sales.csv")

	res, err := Run(context.Background(), testOptions(t, dir, sink.CSVFile{Path: out}))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, []SinkOutcome{{Name: "csv", Status: SinkWritten}}, res.Sinks)

	rows := readCSV(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "LOT 5 DP 123456", rows[0]["legal_description"])
	assert.Equal(t, "2023-03-15", rows[0]["contract_date"])
	assert.Equal(t, "Smith St", rows[0]["street_name"])
}

func TestRun_ArchivedRecordDate(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "1995.zip", map[string]string{"old.dat": archived + "\n"})
	out := filepath.Join(t.TempDir(), "sales.csv")

	res, err := Run(context.Background(), testOptions(t, dir, sink.CSVFile{Path: out}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parse.Archived)

	rows := readCSV(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "1995-03-15", rows[0]["contract_date"])
	assert.Equal(t, "25000", rows[0]["area"])
	assert.Equal(t, "LOT 1 DP 1", rows[0]["legal_description"])
	assert.Equal(t, "", rows[0]["settlement_date"])
}

func TestRun_ShortLineProducesEmptyTable(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "bad.zip", map[string]string{"bad.dat": "B;1;2;3;4;5;6;7;8;9\n"})
	out := filepath.Join(t.TempDir(), "sales.csv")

	res, err := Run(context.Background(), testOptions(t, dir, sink.CSVFile{Path: out}))
	require.NoError(t, err)

	assert.True(t, res.Empty)
	assert.Equal(t, 0, res.Rows)
	assert.Equal(t, 1, res.Parse.Dropped())
	assert.Equal(t, SinkSkippedEmpty, res.Sinks[0].Status)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no file for an empty table")
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Write(context.Context, []record.Canonical) error {
	return errors.New("disk full")
}

func TestRun_SinkFailureAttemptsEverySink(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.zip", map[string]string{"a.dat": currentLine + "\n"})
	out := filepath.Join(t.TempDir(), "sales.csv")

	res, err := Run(context.Background(), testOptions(t, dir, failingSink{}, sink.CSVFile{Path: out}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NotNil(t, res)
	require.Len(t, res.Sinks, 2)
	assert.Equal(t, SinkFailed, res.Sinks[0].Status)
	assert.Equal(t, SinkWritten, res.Sinks[1].Status)
	assert.FileExists(t, out)
}

func TestRun_Bundle(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.zip", map[string]string{"a.dat": currentLine + "\n"})
	outDir := t.TempDir()

	opts := testOptions(t, dir, sink.CSVFile{Path: filepath.Join(outDir, "sales.csv")})
	opts.BundleDir = filepath.Join(outDir, "dist")

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, res.Bundle)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Bundle.Dated), "sales-updated"))
	assert.FileExists(t, res.Bundle.Latest)
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.zip", map[string]string{"a.dat": currentLine + "\n"})
	out := filepath.Join(t.TempDir(), "sales.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, testOptions(t, dir, sink.CSVFile{Path: out}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.NoFileExists(t, out)
}

func TestRun_RecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.zip", map[string]string{
		"a.dat": currentLine + "\n" + "B;1;2;3\n",
		"x.txt": "ignored",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.zip"), []byte("nope"), 0o644))

	reg := prometheus.NewRegistry()
	opts := testOptions(t, dir, sink.CSVFile{Path: filepath.Join(t.TempDir(), "sales.csv")})
	opts.Metrics = NewMetrics(reg)

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.RunsTotal.WithLabelValues(StatusOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(opts.Metrics.LinesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.DroppedTotal.WithLabelValues("short_current")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.ProblemsTotal.WithLabelValues("corrupt_archive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.RowsWritten.WithLabelValues("csv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.LastRunRowCount))
}
