// Package sink writes canonical rows to their destinations: a fully quoted
// CSV file, a SQLite database, a Postgres table, and a dated zip bundle of
// the CSV for publishing.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrEmptyTable is returned when there are no rows to write. Nothing is
// written in that case.
var ErrEmptyTable = errors.New("no rows to write")

// Sink is a destination for one run's rows.
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []record.Canonical) error
}

// WriteCSV writes a header row and one row per record. Every field is
// quoted, embedded quotes are doubled and lines end in "\n". encoding/csv
// only quotes when needed, so quoting is done here.
func WriteCSV(w io.Writer, rows []record.Canonical) error {
	bw := bufio.NewWriter(w)

	if err := writeQuoted(bw, record.Columns); err != nil {
		return err
	}

	fields := make([]string, len(record.Columns))
	for _, row := range rows {
		for i, v := range row.Values() {
			fields[i] = FormatValue(v)
		}
		if err := writeQuoted(bw, fields); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func writeQuoted(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := w.WriteString(strings.ReplaceAll(f, `"`, `""`)); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// FormatValue renders a canonical attribute for text output. Nulls are
// empty, dates are YYYY-MM-DD and numbers use the shortest decimal form.
func FormatValue(v any) string {
	switch val := v.(type) {
	case pgtype.Text:
		if !val.Valid {
			return ""
		}
		return val.String

	case pgtype.Float8:
		if !val.Valid {
			return ""
		}
		return strconv.FormatFloat(val.Float64, 'f', -1, 64)

	case pgtype.Date:
		if !val.Valid {
			return ""
		}
		return val.Time.Format("2006-01-02")

	case nil:
		return ""

	default:
		return fmt.Sprint(val)
	}
}

// CSVFile writes rows to Path. The file is written under a temporary name
// in the same directory and renamed into place, so a failed write never
// leaves a partial file.
type CSVFile struct {
	Path string
}

func (f CSVFile) Name() string { return "csv" }

func (f CSVFile) Write(ctx context.Context, rows []record.Canonical) error {
	if len(rows) == 0 {
		return ErrEmptyTable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := WriteCSV(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
