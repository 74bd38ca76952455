package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/jackc/pgx/v5/pgtype"

	_ "modernc.org/sqlite"
)

// DefaultTable is the table name used by the database sinks.
const DefaultTable = "property_sales"

// SQLite replaces the contents of Table in the database at Path with the
// run's rows. Everything happens in one transaction.
type SQLite struct {
	Path  string
	Table string
}

func (s SQLite) Name() string { return "sqlite" }

func (s SQLite) Write(ctx context.Context, rows []record.Canonical) error {
	if len(rows) == 0 {
		return ErrEmptyTable
	}

	table := s.Table
	if table == "" {
		table = DefaultTable
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.Path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	quoted := fmt.Sprintf("%q", table)

	if _, err := tx.ExecContext(ctx, createTableSQL(quoted, sqliteType)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+quoted); err != nil {
		return fmt.Errorf("clear table: %w", err)
	}

	qCols := make([]string, len(record.Columns))
	for i, c := range record.Columns {
		qCols[i] = fmt.Sprintf("%q", c)
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(record.Columns)), ",")

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quoted+` (`+strings.Join(qCols, ",")+`) VALUES (`+ph+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(row)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	for _, col := range []string{"property_id", "contract_date", "locality"} {
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s(%q)`, "idx_"+table+"_"+col, quoted, col)
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqliteArgs converts a row for database/sql. Dates are stored as
// YYYY-MM-DD text so they sort and compare in SQLite.
func sqliteArgs(row record.Canonical) []any {
	values := row.Values()
	for i, v := range values {
		if d, ok := v.(pgtype.Date); ok {
			if d.Valid {
				values[i] = FormatValue(d)
			} else {
				values[i] = nil
			}
		}
	}
	return values
}

func sqliteType(v any) string {
	switch v.(type) {
	case pgtype.Float8:
		return "REAL"
	default:
		return "TEXT"
	}
}

// createTableSQL builds a CREATE TABLE IF NOT EXISTS statement for the
// canonical columns, typing each column by its Go value.
func createTableSQL(quotedTable string, typeOf func(any) string) string {
	values := record.Canonical{}.Values()
	defs := make([]string, len(record.Columns))
	for i, c := range record.Columns {
		defs[i] = fmt.Sprintf("%q %s", c, typeOf(values[i]))
	}
	return `CREATE TABLE IF NOT EXISTS ` + quotedTable + ` (` + strings.Join(defs, ", ") + `)`
}
