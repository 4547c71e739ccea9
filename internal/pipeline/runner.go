// Package pipeline runs extractions end to end: it resolves the resources
// of a run, extracts them for every customer and loads the records into a
// sink.
//
// # Overview
//
// Every (customer, resource) pair is one task. A task:
//   - decides the first-run flag, from the state store unless forced
//   - streams the records of the extraction driver into batches
//   - writes each batch to the sink, in order
//   - records a state entry once the last batch is loaded
//
// Tasks run concurrently up to Options.Concurrency. A failing task does not
// stop the others; its error is reported in the Result.
//
// # Basic Usage
//
//	opts, err := pipeline.OptionsFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	runner := pipeline.NewRunner(driver, dst, store, opts)
//	result, err := runner.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	return result.Err()
package pipeline

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/extract"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/observability"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/sink"
	"github.com/ajitpratap0/adsync/pkg/state"
)

// DefaultBatchSize is used when Options.BatchSize is not set
const DefaultBatchSize = 5000

// Options control one run
type Options struct {
	CustomerIDs []string
	// Resources names the resources to extract; empty means the default set
	Resources            []string
	StartDate            civil.Date
	ConversionWindowDays int
	FirstRun             config.FirstRunMode
	// LookbackDays overrides the slice lookback of sliced resources when > 0
	LookbackDays int
	Concurrency  int
	BatchSize    int
}

// OptionsFromConfig builds run options from the configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	start, err := cfg.Run.Start()
	if err != nil {
		return Options{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid start date").
			WithDetail("start_date", cfg.Run.StartDate)
	}
	return Options{
		CustomerIDs:          cfg.Run.CustomerIDs,
		Resources:            cfg.Run.Resources,
		StartDate:            start,
		ConversionWindowDays: cfg.Run.ConversionWindowDays,
		FirstRun:             cfg.Run.FirstRun,
		LookbackDays:         cfg.Run.LookbackDays,
		Concurrency:          cfg.Run.Concurrency,
		BatchSize:            cfg.Destination.BatchSize,
	}, nil
}

// Validate checks the options
func (o Options) Validate() error {
	if len(o.CustomerIDs) == 0 {
		return errors.New(errors.ErrorTypeValidation, "at least one customer id is required")
	}
	if !o.StartDate.IsValid() {
		return errors.New(errors.ErrorTypeValidation, "start date is invalid")
	}
	switch o.FirstRun {
	case config.FirstRunAuto, config.FirstRunTrue, config.FirstRunFalse:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown first run mode %q", o.FirstRun)
	}
	return nil
}

// Runner executes runs against one driver, sink and state store
type Runner struct {
	driver *extract.Driver
	sink   sink.Sink
	store  state.Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner creates a runner. Unset concurrency, batch size and first run
// mode fall back to 1, DefaultBatchSize and auto.
func NewRunner(driver *extract.Driver, dst sink.Sink, store state.Store, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FirstRun == "" {
		opts.FirstRun = config.FirstRunAuto
	}
	return &Runner{
		driver: driver,
		sink:   dst,
		store:  store,
		opts:   opts,
		logger: logger.Get().With(zap.String("component", "runner"), zap.String("sink", dst.Name())),
		now:    time.Now,
	}
}

// Run extracts and loads every selected resource for every customer. The
// returned error covers problems that prevent the run from starting and
// cancellation; per-resource failures are in the Result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.opts.Validate(); err != nil {
		return nil, err
	}
	selected, err := r.driver.Catalog().Select(r.opts.Resources)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logger.ContextWith(ctx, logger.RunIDKey, runID)
	log := r.logger.With(zap.String("run_id", runID))
	timer := metrics.NewTimer()
	result := &Result{RunID: runID, Started: r.now()}

	log.Info("run started",
		zap.Strings("customer_ids", r.opts.CustomerIDs),
		zap.Int("resources", len(selected)),
		zap.String("first_run", string(r.opts.FirstRun)),
		zap.Int("concurrency", r.opts.Concurrency))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, customerID := range r.opts.CustomerIDs {
		for _, res := range selected {
			g.Go(func() error {
				rr := r.runResource(gctx, runID, customerID, res)
				mu.Lock()
				result.Resources = append(result.Resources, rr)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	result.Duration = timer.Stop()
	result.sort()
	metrics.RunDuration.Observe(result.Duration.Seconds())

	failed := result.Failed()
	log.Info("run finished",
		zap.Int64("rows", result.Rows()),
		zap.Int("failed", len(failed)),
		zap.Duration("duration", result.Duration))

	if err := ctx.Err(); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeTimeout, "run interrupted")
	}
	return result, nil
}

// runResource runs one task and reports its outcome
func (r *Runner) runResource(ctx context.Context, runID, customerID string, res resources.Resource) ResourceResult {
	out := ResourceResult{CustomerID: customerID, Resource: res.Name}
	started := r.now()

	ctx = logger.ContextWith(ctx, logger.CustomerKey, customerID)
	ctx = logger.ContextWith(ctx, logger.ResourceKey, res.Name)
	ctx, span := observability.StartResourceSpan(ctx, runID, customerID, res.Name)
	log := logger.WithContext(ctx)

	firstRun, err := r.firstRun(ctx, customerID, res.Name)
	if err == nil {
		out.FirstRun = firstRun
		out.Rows, err = r.load(ctx, customerID, res, firstRun)
	}
	if err == nil {
		err = r.store.Put(ctx, state.Entry{
			CustomerID:  customerID,
			Resource:    res.Name,
			LastSuccess: r.now(),
			Through:     r.driver.Today().String(),
			RunID:       runID,
			Rows:        out.Rows,
		})
	}
	out.Err = err
	out.Duration = r.now().Sub(started)
	observability.End(span, err)

	if err != nil {
		metrics.ResourceRuns.WithLabelValues(res.Name, "failure").Inc()
		log.Error("resource failed",
			zap.Error(err),
			zap.Int64("rows", out.Rows),
			zap.Bool("first_run", out.FirstRun))
		return out
	}
	metrics.ResourceRuns.WithLabelValues(res.Name, "success").Inc()
	metrics.LastSuccess.WithLabelValues(res.Name).Set(float64(r.now().Unix()))
	log.Info("resource loaded",
		zap.Int64("rows", out.Rows),
		zap.Bool("first_run", out.FirstRun),
		zap.Duration("duration", out.Duration))
	return out
}

// firstRun resolves the first-run flag of a pair. In auto mode a pair is on
// its first run until a load of it has succeeded.
func (r *Runner) firstRun(ctx context.Context, customerID, resource string) (bool, error) {
	switch r.opts.FirstRun {
	case config.FirstRunTrue:
		return true, nil
	case config.FirstRunFalse:
		return false, nil
	}
	_, ok, err := r.store.Get(ctx, customerID, resource)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// load streams one resource into the sink and returns the rows written
func (r *Runner) load(ctx context.Context, customerID string, res resources.Resource, firstRun bool) (int64, error) {
	rc := extract.RunContext{
		CustomerID:           customerID,
		StartDate:            r.opts.StartDate,
		ConversionWindowDays: r.opts.ConversionWindowDays,
		FirstRun:             firstRun,
		LookbackDays:         r.opts.LookbackDays,
	}
	plan, err := r.driver.Plan(res.Name, rc)
	if err != nil {
		return 0, err
	}

	batch := &models.Batch{
		Resource:    res.Name,
		CustomerID:  customerID,
		Disposition: res.Disposition,
		MergeKey:    res.MergeKey,
		Schema:      plan.Schema,
		First:       true,
		Records:     make([]models.Record, 0, r.opts.BatchSize),
	}

	var rows int64
	for rec, err := range r.driver.Extract(ctx, res.Name, rc) {
		if err != nil {
			return rows, err
		}
		batch.Add(rec)
		if batch.Len() < r.opts.BatchSize {
			continue
		}
		n, err := r.flush(ctx, batch)
		rows += n
		if err != nil {
			return rows, err
		}
	}

	// A replace load with no rows still clears what the customer had
	if batch.Len() > 0 || (batch.First && res.Disposition == models.DispositionReplace) {
		n, err := r.flush(ctx, batch)
		rows += n
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// flush writes the buffered records and starts the next batch
func (r *Runner) flush(ctx context.Context, batch *models.Batch) (int64, error) {
	n := batch.Len()
	ctx, span := observability.StartSinkSpan(ctx, r.sink.Name(), batch.Resource, n)
	err := r.sink.Write(ctx, batch)
	observability.End(span, err)
	if err != nil {
		return 0, err
	}
	metrics.RowsLoaded.WithLabelValues(r.sink.Name(), batch.Resource).Add(float64(n))
	batch.First = false
	batch.Reset()
	return int64(n), nil
}
