// Package mysql loads batches into MySQL with multi-row
// INSERT ... ON DUPLICATE KEY UPDATE statements.
package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "mysql"

const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?`

// Sink writes to MySQL
type Sink struct {
	loader *sink.SQLLoader
}

var _ sink.Sink = (*Sink)(nil)

// DriverConfig parses the DSN. Times are read and written in UTC.
func DriverConfig(cfg config.MySQLConfig) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse mysql dsn")
	}
	if mc.DBName == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mysql dsn must name a database")
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc, nil
}

// New connects to the database in cfg.MySQL
func New(ctx context.Context, cfg config.DestinationConfig) (*Sink, error) {
	mc, err := DriverConfig(cfg.MySQL)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create mysql connector")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MySQL")
	}

	logger.Get().Info("connected to MySQL", zap.String("addr", mc.Addr), zap.String("database", mc.DBName))

	store := &sink.DBStore{DB: db, ColumnsQuery: columnsQuery}
	return &Sink{loader: sink.NewSQLLoader(store, sink.MySQL, "", "")}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	return s.loader.Load(ctx, batch)
}

func (s *Sink) Close(context.Context) error {
	return s.loader.Close()
}
