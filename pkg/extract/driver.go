// Package extract runs the queries of one resource against the Google Ads
// API and yields the returned rows as records.
//
// The driver loads the resource's field list, plans its date windows,
// renders one GAQL query per window and executes the queries one after
// another. Records are produced lazily: nothing is requested from the API
// until the caller starts ranging over the sequence, and an open stream is
// closed as soon as the caller stops.
package extract

import (
	"context"
	"io"
	"iter"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/convert"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/gaql"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/observability"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/schema"
	"github.com/ajitpratap0/adsync/pkg/window"
)

// RunContext carries the per-invocation settings of an extraction.
// It is read-only once extraction starts.
type RunContext struct {
	CustomerID           string
	StartDate            civil.Date
	ConversionWindowDays int
	FirstRun             bool
	// LookbackDays overrides the resource's slice lookback when > 0
	LookbackDays int
}

// Validate checks the run context
func (rc RunContext) Validate() error {
	if rc.CustomerID == "" {
		return errors.New(errors.ErrorTypeValidation, "customer id is required")
	}
	if !rc.StartDate.IsValid() {
		return errors.New(errors.ErrorTypeValidation, "start date is invalid")
	}
	if rc.ConversionWindowDays < 0 {
		return errors.New(errors.ErrorTypeValidation, "conversion window days must be >= 0")
	}
	if rc.LookbackDays < 0 {
		return errors.New(errors.ErrorTypeValidation, "lookback days must be >= 0")
	}
	return nil
}

// Driver composes the schema registry, catalog, planner and API client
type Driver struct {
	client   googleads.APIClient
	registry *schema.Registry
	catalog  *resources.Catalog
	planner  *window.Planner
	logger   *zap.Logger
	now      func() time.Time
}

// NewDriver creates a driver. A nil catalog means resources.Default and a
// nil planner uses the local system clock.
func NewDriver(client googleads.APIClient, registry *schema.Registry, catalog *resources.Catalog, planner *window.Planner) *Driver {
	if catalog == nil {
		catalog = resources.Default()
	}
	if planner == nil {
		planner = window.NewPlanner(nil)
	}
	return &Driver{
		client:   client,
		registry: registry,
		catalog:  catalog,
		planner:  planner,
		logger:   logger.Get().With(zap.String("component", "extract_driver")),
		now:      time.Now,
	}
}

// Catalog returns the catalog the driver resolves names against
func (d *Driver) Catalog() *resources.Catalog {
	return d.catalog
}

// Today returns the planner's current date
func (d *Driver) Today() civil.Date {
	return d.planner.Today()
}

// Extract returns the records of one resource. Any error ends the sequence
// and is yielded once with a zero Record. Records already yielded stay
// valid; the sink's merge on the merge key makes a re-run safe.
func (d *Driver) Extract(ctx context.Context, name string, rc RunContext) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		plan, err := d.Plan(name, rc)
		if err != nil {
			yield(models.Record{}, err)
			return
		}

		log := d.logger.With(
			zap.String("resource", plan.Resource.Name),
			zap.String("customer_id", plan.CustomerID))
		log.Debug("extracting resource", zap.Int("queries", len(plan.Queries)))

		for _, q := range plan.Queries {
			if !d.runQuery(ctx, plan, q, log, yield) {
				return
			}
		}
	}
}

// runQuery streams one query. It returns false when iteration must stop,
// either because of an error or because the caller stopped ranging.
func (d *Driver) runQuery(ctx context.Context, plan *Plan, q gaql.Query, log *zap.Logger,
	yield func(models.Record, error) bool) bool {
	name := plan.Resource.Name
	query := q.String()

	ctx, span := observability.StartQuerySpan(ctx, name, query)
	timer := metrics.NewTimer()
	var rows int
	var err error
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.QueriesExecuted.WithLabelValues(name, outcome).Inc()
		metrics.QueryDuration.WithLabelValues(name).Observe(timer.Stop().Seconds())
		span.SetAttributes(observability.AttrRows.Int(rows))
		observability.End(span, err)
	}()

	stream, err := d.client.ExecuteStreamingQuery(ctx, plan.CustomerID, query)
	if err != nil {
		log.Warn("query failed", zap.String("query", query), zap.Error(err))
		yield(models.Record{}, err)
		return false
	}
	defer stream.Close()

	for {
		var batch *googleads.Batch
		batch, err = stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			log.Warn("stream failed", zap.String("query", query), zap.Int("rows", rows), zap.Error(err))
			yield(models.Record{}, err)
			return false
		}

		for _, row := range batch.Results {
			rec := d.toRecord(plan, row)
			rows++
			metrics.RowsExtracted.WithLabelValues(name).Inc()
			if !yield(rec, nil) {
				return false
			}
		}
	}

	log.Debug("query complete", zap.Int("rows", rows))
	return true
}

func (d *Driver) toRecord(plan *Plan, row map[string]any) models.Record {
	var data map[string]any
	if plan.Resource.Project != "" {
		data = convert.Project(row, plan.Resource.Project)
		if data == nil {
			data = map[string]any{}
		}
	} else {
		data = convert.ToRecord(row)
	}
	return models.Record{
		Resource:    plan.Resource.Name,
		CustomerID:  plan.CustomerID,
		MergeKey:    plan.Resource.MergeKey,
		Data:        data,
		ExtractedAt: d.now().UTC(),
	}
}
