// Package snowflake loads batches into Snowflake. Merges are MERGE
// statements over a VALUES source; object and array columns are VARIANT.
package snowflake

import (
	"context"
	"database/sql"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "snowflake"

// Tables are created in the session schema, so the lookup uses it too
const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF(?, ''), CURRENT_SCHEMA()) AND table_name = ?`

// Sink writes to Snowflake
type Sink struct {
	loader *sink.SQLLoader
}

var _ sink.Sink = (*Sink)(nil)

// DSN builds the driver connection string
func DSN(cfg config.SnowflakeConfig) (string, error) {
	sc := &gosnowflake.Config{
		Account:          cfg.Account,
		User:             cfg.User,
		Password:         cfg.Password,
		Database:         cfg.Database,
		Schema:           cfg.Schema,
		Warehouse:        cfg.Warehouse,
		Role:             cfg.Role,
		Application:      "adsync",
		LoginTimeout:     30 * time.Second,
		KeepSessionAlive: true,
	}
	dsn, err := gosnowflake.DSN(sc)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to build snowflake dsn")
	}
	return dsn, nil
}

// New connects to the account in cfg.Snowflake
func New(ctx context.Context, cfg config.DestinationConfig) (*Sink, error) {
	dsn, err := DSN(cfg.Snowflake)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping Snowflake")
	}

	logger.Get().Info("connected to Snowflake",
		zap.String("account", cfg.Snowflake.Account),
		zap.String("database", cfg.Snowflake.Database),
		zap.String("warehouse", cfg.Snowflake.Warehouse))

	store := &sink.DBStore{DB: db, ColumnsQuery: columnsQuery}
	return &Sink{loader: sink.NewSQLLoader(store, sink.Snowflake, "", "")}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	return s.loader.Load(ctx, batch)
}

func (s *Sink) Close(context.Context) error {
	return s.loader.Close()
}
