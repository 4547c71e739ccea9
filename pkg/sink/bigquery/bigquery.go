// Package bigquery loads batches into BigQuery with load jobs.
//
// Appends and replaces load newline-delimited JSON straight into the
// resource table. Merges load into a short-lived staging table and MERGE
// it into the resource table on the customer id plus the merge key.
package bigquery

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "bigquery"

// stagingTTL expires staging tables a failed merge leaves behind
const stagingTTL = 6 * time.Hour

// Sink writes to one BigQuery dataset
type Sink struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	cfg     config.BigQueryConfig
	logger  *zap.Logger

	mu      sync.Mutex
	ensured map[string]bigquery.Schema
}

var _ sink.Sink = (*Sink)(nil)

// New creates the client and the dataset if it does not exist
func New(ctx context.Context, cfg config.DestinationConfig, opts ...option.ClientOption) (*Sink, error) {
	bq := cfg.BigQuery
	if bq.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(bq.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, bq.ProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}

	dataset := client.Dataset(bq.Dataset)
	if _, err := dataset.Metadata(ctx); err != nil {
		if apiStatus(err) != http.StatusNotFound {
			_ = client.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read dataset")
		}
		err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: bq.Location})
		if err != nil && apiStatus(err) != http.StatusConflict {
			_ = client.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create dataset")
		}
	}

	log := logger.Get().With(zap.String("sink", Name), zap.String("dataset", bq.ProjectID+"."+bq.Dataset))
	log.Info("connected to BigQuery")

	return &Sink{
		client:  client,
		dataset: dataset,
		cfg:     bq,
		logger:  log,
		ensured: make(map[string]bigquery.Schema),
	}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	layout := sink.NewLayout(batch)
	table := s.dataset.Table(sink.TableName(s.cfg.TablePrefix, batch.Resource))

	if err := s.ensureTable(ctx, table, Schema(layout)); err != nil {
		return err
	}

	records := batch.Records
	if len(layout.Key) > 0 {
		records = sink.Dedupe(records)
		if len(records) == 0 {
			return nil
		}
		return s.merge(ctx, table, layout, records)
	}

	if batch.Disposition == models.DispositionReplace && batch.First {
		param := bigquery.QueryParameter{Name: "customer_id", Value: batch.CustomerID}
		if err := s.query(ctx, DeleteSQL(s.path(table.TableID)), param); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to clear customer rows").
				WithDetail("table", table.TableID)
		}
	}
	if len(records) == 0 {
		return nil
	}
	return s.load(ctx, table, layout, records, bigquery.WriteAppend)
}

func (s *Sink) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close BigQuery client")
	}
	return nil
}

// ensureTable creates the table, or widens it with the columns it lacks
func (s *Sink) ensureTable(ctx context.Context, table *bigquery.Table, want bigquery.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if have, ok := s.ensured[table.TableID]; ok && len(missingFields(have, want)) == 0 {
		return nil
	}

	md, err := table.Metadata(ctx)
	if apiStatus(err) == http.StatusNotFound {
		err = table.Create(ctx, &bigquery.TableMetadata{
			Schema:     want,
			Clustering: &bigquery.Clustering{Fields: []string{sink.CustomerColumn}},
			Labels:     map[string]string{"managed_by": "adsync"},
		})
		if err == nil {
			s.logger.Info("table created", zap.String("table", table.TableID), zap.Int("columns", len(want)))
			s.ensured[table.TableID] = want
			return nil
		}
		if apiStatus(err) != http.StatusConflict {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to create table").WithDetail("table", table.TableID)
		}
		md, err = table.Metadata(ctx)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read table metadata").WithDetail("table", table.TableID)
	}

	if added := missingFields(md.Schema, want); len(added) > 0 {
		update := bigquery.TableMetadataToUpdate{Schema: append(md.Schema, added...)}
		md, err = table.Update(ctx, update, md.ETag)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to add columns").WithDetail("table", table.TableID)
		}
		s.logger.Info("columns added", zap.String("table", table.TableID), zap.Int("added", len(added)))
	}
	s.ensured[table.TableID] = md.Schema
	return nil
}

// merge loads records into a staging table and merges it into table
func (s *Sink) merge(ctx context.Context, table *bigquery.Table, layout sink.Layout, records []models.Record) error {
	stage := s.dataset.Table(stagingName(table.TableID))
	err := stage.Create(ctx, &bigquery.TableMetadata{
		Schema:         Schema(layout),
		ExpirationTime: time.Now().Add(stagingTTL),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create staging table").WithDetail("table", stage.TableID)
	}
	defer func() {
		if err := stage.Delete(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to drop staging table", zap.String("table", stage.TableID), zap.Error(err))
		}
	}()

	if err := s.load(ctx, stage, layout, records, bigquery.WriteTruncate); err != nil {
		return err
	}
	if err := s.query(ctx, MergeSQL(s.path(table.TableID), s.path(stage.TableID), layout)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "merge failed").WithDetail("table", table.TableID)
	}
	return nil
}

// load runs a load job reading records as newline-delimited JSON
func (s *Sink) load(ctx context.Context, table *bigquery.Table, layout sink.Layout, records []models.Record, disposition bigquery.TableWriteDisposition) error {
	reader, writer := io.Pipe()
	defer reader.Close()

	go func() {
		enc := json.NewLineEncoder(writer)
		for _, rec := range records {
			if err := enc.Encode(layout.Object(rec)); err != nil {
				writer.CloseWithError(err)
				return
			}
		}
		_ = writer.Close()
	}()

	source := bigquery.NewReaderSource(reader)
	source.SourceFormat = bigquery.JSON

	loader := table.LoaderFrom(source)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateNever
	loader.Location = s.cfg.Location
	loader.Labels = map[string]string{"source": "adsync", "type": "batch_load"}

	job, err := loader.Run(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to submit BigQuery load job")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "load job failed or timed out")
	}
	if status.Err() != nil {
		for i, jobErr := range status.Errors {
			s.logger.Error("load job error detail",
				zap.Int("error_index", i),
				zap.String("message", jobErr.Message),
				zap.String("reason", jobErr.Reason),
				zap.String("location", jobErr.Location))
		}
		return errors.Wrap(status.Err(), errors.ErrorTypeData, "BigQuery load job failed").
			WithDetail("job_id", job.ID())
	}

	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		s.logger.Debug("load job completed",
			zap.String("job_id", job.ID()),
			zap.String("table", table.TableID),
			zap.Int64("input_file_bytes", stats.InputFileBytes),
			zap.Int64("output_rows", stats.OutputRows))
	}
	return nil
}

// query runs a DML statement and waits for it
func (s *Sink) query(ctx context.Context, sql string, params ...bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Location = s.cfg.Location
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (s *Sink) path(table string) string {
	return quote(s.cfg.ProjectID, s.cfg.Dataset, table)
}

func stagingName(table string) string {
	return table + "__stage_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// apiStatus returns the HTTP status of a Google API error, or 0
func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
