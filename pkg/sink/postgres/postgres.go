// Package postgres loads batches into PostgreSQL through a pgx pool.
// Appends are written with COPY, merges with INSERT ... ON CONFLICT.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "postgres"

const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2`

// Sink writes to PostgreSQL
type Sink struct {
	loader *sink.SQLLoader
}

var _ sink.Sink = (*Sink)(nil)

// PoolConfig parses the DSN and applies the pool defaults
func PoolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 4
	}
	if poolConfig.MaxConnLifetime <= 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	return poolConfig, nil
}

// New connects to the database in cfg.Postgres
func New(ctx context.Context, cfg config.DestinationConfig) (*Sink, error) {
	poolConfig, err := PoolConfig(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to PostgreSQL")
	}

	logger.Get().Info("connected to PostgreSQL",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &Sink{loader: sink.NewSQLLoader(&store{pool: pool}, sink.Postgres, cfg.Postgres.Schema, "")}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	return s.loader.Load(ctx, batch)
}

func (s *Sink) Close(context.Context) error {
	return s.loader.Close()
}

// store adapts a pgx pool to sink.SQLStore
type store struct {
	pool *pgxpool.Pool
}

func (s *store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *store) Columns(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *store) Tx(ctx context.Context, fn func(sink.Execer) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txExecer{tx: tx})
	})
}

func (s *store) Close() error {
	s.pool.Close()
	return nil
}

type txExecer struct {
	tx pgx.Tx
}

func (t *txExecer) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

// CopyRows bulk-inserts rows with COPY FROM
func (t *txExecer) CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) error {
	ident := pgx.Identifier{table}
	if schema != "" {
		ident = pgx.Identifier{schema, table}
	}
	n, err := t.tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to copy rows").WithDetail("table", table)
	}
	if int(n) != len(rows) {
		return errors.Newf(errors.ErrorTypeData, "copied %d of %d rows", n, len(rows)).WithDetail("table", table)
	}
	return nil
}
