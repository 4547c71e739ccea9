package sink

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
)

// Execer runs one statement
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Copier is implemented by transactions that can bulk-insert rows without
// rendering statements
type Copier interface {
	CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) error
}

// SQLStore is the connection a SQLLoader writes through
type SQLStore interface {
	Execer
	// Columns lists the existing columns of a table; empty when the table
	// does not exist
	Columns(ctx context.Context, schema, table string) ([]string, error)
	// Tx runs fn in one transaction
	Tx(ctx context.Context, fn func(Execer) error) error
	Close() error
}

// SQLLoader applies batches to a SQL database: it creates and widens the
// destination table, then deletes, upserts or inserts inside one
// transaction per batch.
type SQLLoader struct {
	store   SQLStore
	dialect Dialect
	schema  string
	prefix  string
	logger  *zap.Logger

	mu sync.Mutex
	// ensured holds the columns known to exist per table
	ensured map[string]map[string]bool
}

// NewSQLLoader creates a loader writing tables named prefix+resource into
// schema. An empty schema uses the connection's default.
func NewSQLLoader(store SQLStore, dialect Dialect, schema, prefix string) *SQLLoader {
	return &SQLLoader{
		store:   store,
		dialect: dialect,
		schema:  schema,
		prefix:  prefix,
		logger:  logger.Get().With(zap.String("component", "sql_loader"), zap.String("dialect", dialect.String())),
		ensured: make(map[string]map[string]bool),
	}
}

// Load applies one batch
func (l *SQLLoader) Load(ctx context.Context, batch *models.Batch) error {
	table := TableName(l.prefix, batch.Resource)
	qualified := l.dialect.QualifiedName(l.schema, table)
	layout := NewLayout(batch)

	if err := l.ensureTable(ctx, table, qualified, layout); err != nil {
		return err
	}

	records := batch.Records
	if len(layout.Key) > 0 {
		records = Dedupe(records)
	}

	err := l.store.Tx(ctx, func(tx Execer) error {
		if batch.Disposition == models.DispositionReplace && batch.First {
			if err := tx.Exec(ctx, l.dialect.DeleteCustomer(qualified), batch.CustomerID); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to clear customer rows")
			}
		}
		if len(records) == 0 {
			return nil
		}

		if c, ok := tx.(Copier); ok && len(layout.Key) == 0 {
			rows := make([][]any, len(records))
			for i, r := range records {
				rows[i] = layout.Values(r)
			}
			return c.CopyRows(ctx, l.schema, table, layout.Names(), rows)
		}

		step := l.dialect.RowsPerStatement(layout)
		for start := 0; start < len(records); start += step {
			chunk := records[start:min(start+step, len(records))]
			if err := tx.Exec(ctx, l.dialect.Upsert(qualified, layout, len(chunk)), layout.Args(chunk)...); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to write rows").
					WithDetail("table", table)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Debug("batch loaded",
		zap.String("table", table),
		zap.String("customer_id", batch.CustomerID),
		zap.String("disposition", string(batch.Disposition)),
		zap.Int("rows", len(records)))
	return nil
}

// ensureTable creates the table or adds the layout's missing columns
func (l *SQLLoader) ensureTable(ctx context.Context, table, qualified string, layout Layout) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	known := l.ensured[table]
	missing := MissingColumns(layout, known)
	if known != nil && len(missing) == 0 {
		return nil
	}

	existing, err := l.store.Columns(ctx, l.schema, table)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read table columns").
			WithDetail("table", table)
	}

	if len(existing) == 0 {
		if err := l.store.Exec(ctx, l.dialect.CreateTable(qualified, layout)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to create table").
				WithDetail("table", table)
		}
		l.logger.Info("table created", zap.String("table", table), zap.Int("columns", len(layout.Columns)))
	} else {
		have := make(map[string]bool, len(existing))
		for _, c := range existing {
			have[c] = true
		}
		for _, c := range MissingColumns(layout, have) {
			if err := l.store.Exec(ctx, l.dialect.AddColumn(qualified, c)); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to add column").
					WithDetail("table", table).WithDetail("column", c.Name)
			}
			l.logger.Info("column added", zap.String("table", table), zap.String("column", c.Name))
		}
	}

	if known == nil {
		known = make(map[string]bool, len(layout.Columns))
		l.ensured[table] = known
	}
	for _, c := range existing {
		known[c] = true
	}
	for _, c := range layout.Columns {
		known[c.Name] = true
	}
	return nil
}

// Close closes the store
func (l *SQLLoader) Close() error {
	return l.store.Close()
}

// MissingColumns returns the layout columns absent from have
func MissingColumns(layout Layout, have map[string]bool) []Column {
	var out []Column
	for _, c := range layout.Columns {
		if !have[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// DBStore adapts a database/sql pool to SQLStore. ColumnsQuery takes the
// schema and table name as its two parameters.
type DBStore struct {
	DB           *sql.DB
	ColumnsQuery string
}

func (s *DBStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.DB.ExecContext(ctx, query, args...)
	return err
}

func (s *DBStore) Columns(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, s.ColumnsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *DBStore) Tx(ctx context.Context, fn func(Execer) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	if err := fn(sqlTx{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to commit transaction")
	}
	return nil
}

func (s *DBStore) Close() error { return s.DB.Close() }

type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}
