package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxBeginner starts a transaction. *pgxpool.Pool and *pgx.Conn satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres replaces the contents of Table with the run's rows using COPY.
type Postgres struct {
	DB    TxBeginner
	Table string
}

// NewPool opens a pgx pool for the Postgres sink.
func NewPool(ctx context.Context, url string, maxConns, minConns int32, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = minConns
	if maxLifetime > 0 {
		cfg.MaxConnLifetime = maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func (p Postgres) Name() string { return "postgres" }

func (p Postgres) Write(ctx context.Context, rows []record.Canonical) error {
	if len(rows) == 0 {
		return ErrEmptyTable
	}

	table := p.Table
	if table == "" {
		table = DefaultTable
	}
	ident := pgx.Identifier{table}
	quoted := ident.Sanitize()

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createTableSQL(quoted, postgresType)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE `+quoted); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	n, err := tx.CopyFrom(ctx, ident, record.Columns, pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return rows[i].Values(), nil
	}))
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy rows: wrote %d of %d", n, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func postgresType(v any) string {
	switch v.(type) {
	case pgtype.Float8:
		return "double precision"
	case pgtype.Date:
		return "date"
	default:
		return "text"
	}
}
