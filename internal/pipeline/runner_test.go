package pipeline

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/extract"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/schema"
	"github.com/ajitpratap0/adsync/pkg/sink/memory"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/ajitpratap0/adsync/pkg/window"
)

// fakeAds answers queries by the resource in their FROM clause
type fakeAds struct {
	mu      sync.Mutex
	queries map[string][]string
	rows    map[string][]map[string]any
	fail    map[string]error
}

func newFakeAds() *fakeAds {
	return &fakeAds{
		queries: make(map[string][]string),
		rows:    make(map[string][]map[string]any),
		fail:    make(map[string]error),
	}
}

func (f *fakeAds) ExecuteStreamingQuery(_ context.Context, customerID, query string) (googleads.Stream, error) {
	from := query[strings.Index(query, " FROM ")+6:]
	table := strings.Fields(from)[0]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[customerID] = append(f.queries[customerID], query)
	if err := f.fail[table]; err != nil {
		return nil, err
	}
	return &fakeRows{rows: f.rows[table]}, nil
}

func (f *fakeAds) Queries(customerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries[customerID]...)
}

type fakeRows struct {
	rows []map[string]any
	done bool
}

func (s *fakeRows) Next(context.Context) (*googleads.Batch, error) {
	if s.done || len(s.rows) == 0 {
		return nil, io.EOF
	}
	s.done = true
	return &googleads.Batch{Results: s.rows}, nil
}

func (s *fakeRows) Close() error { return nil }

func campaigns(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"campaign": map[string]any{"id": strconv.Itoa(i + 1), "name": "Campaign"},
			"segments": map[string]any{"date": "2024-01-19", "adNetworkType": "SEARCH"},
			"metrics":  map[string]any{"clicks": "3"},
		}
	}
	return out
}

func clients(statuses ...string) []map[string]any {
	out := make([]map[string]any, len(statuses))
	for i, s := range statuses {
		out[i] = map[string]any{"customerClient": map[string]any{"status": s}}
	}
	return out
}

func testDriver(client googleads.APIClient) *extract.Driver {
	return extract.NewDriver(client, schema.NewEmbeddedRegistry(), resources.Default(),
		window.NewPlanner(window.FixedClock(civil.Date{Year: 2024, Month: time.January, Day: 20})))
}

func testOptions() Options {
	return Options{
		CustomerIDs:          []string{"111", "222"},
		Resources:            []string{"campaign", "customer_client"},
		StartDate:            civil.Date{Year: 2024, Month: time.January, Day: 10},
		ConversionWindowDays: 3,
		FirstRun:             config.FirstRunAuto,
		Concurrency:          2,
	}
}

func TestRunLoadsEveryPair(t *testing.T) {
	ads := newFakeAds()
	ads.rows["campaign"] = campaigns(2)
	ads.rows["customer_client"] = clients("ENABLED")
	dst := memory.New()
	store := state.NewMemoryStore()

	result, err := NewRunner(testDriver(ads), dst, store, testOptions()).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Resources, 4)
	assert.Equal(t, "111", result.Resources[0].CustomerID)
	assert.Equal(t, "campaign", result.Resources[0].Resource)
	assert.Equal(t, "customer_client", result.Resources[1].Resource)
	assert.Equal(t, int64(6), result.Rows())
	for _, rr := range result.Resources {
		assert.True(t, rr.FirstRun, rr.Resource)
	}

	assert.Equal(t, 4, dst.Count("campaign"))
	assert.Equal(t, 2, dst.Count("customer_client"))

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, result.RunID, e.RunID)
		assert.Equal(t, "2024-01-20", e.Through)
	}
	entry, ok, err := store.Get(context.Background(), "222", "campaign")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Rows)
}

func TestRunResolvesFirstRunFromState(t *testing.T) {
	ads := newFakeAds()
	ads.rows["campaign"] = campaigns(1)
	store := state.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), state.Entry{CustomerID: "111", Resource: "campaign"}))

	opts := testOptions()
	opts.Resources = []string{"campaign"}
	result, err := NewRunner(testDriver(ads), memory.New(), store, opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Resources, 2)
	assert.False(t, result.Resources[0].FirstRun)
	assert.True(t, result.Resources[1].FirstRun)
	assert.Contains(t, ads.Queries("111")[0], "'2024-01-07'")
	assert.Contains(t, ads.Queries("222")[0], "'2024-01-10'")
}

func TestRunForcedFirstRun(t *testing.T) {
	ads := newFakeAds()
	store := state.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), state.Entry{CustomerID: "111", Resource: "campaign"}))

	opts := testOptions()
	opts.CustomerIDs = []string{"111"}
	opts.Resources = []string{"campaign"}
	opts.FirstRun = config.FirstRunTrue
	result, err := NewRunner(testDriver(ads), memory.New(), store, opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Resources[0].FirstRun)

	opts.FirstRun = config.FirstRunFalse
	store = state.NewMemoryStore()
	result, err = NewRunner(testDriver(ads), memory.New(), store, opts).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Resources[0].FirstRun)
}

func TestRunIsolatesFailures(t *testing.T) {
	ads := newFakeAds()
	ads.rows["campaign"] = campaigns(3)
	ads.fail["customer_client"] = errors.New(errors.ErrorTypePermission, "denied")
	dst := memory.New()
	store := state.NewMemoryStore()

	opts := testOptions()
	opts.CustomerIDs = []string{"111"}
	result, err := NewRunner(testDriver(ads), dst, store, opts).Run(context.Background())
	require.NoError(t, err)

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "customer_client", failed[0].Resource)
	assert.Equal(t, 3, dst.Count("campaign"))

	_, ok, err := store.Get(context.Background(), "111", "customer_client")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(context.Background(), "111", "campaign")
	require.NoError(t, err)
	assert.True(t, ok)

	runErr := result.Err()
	require.Error(t, runErr)
	assert.True(t, errors.IsType(runErr, errors.ErrorTypePermission))
	var e *errors.Error
	require.True(t, errors.As(runErr, &e))
	assert.Equal(t, []string{"111/customer_client"}, e.Detail("failed"))
}

func TestRunFlushesInBatches(t *testing.T) {
	ads := newFakeAds()
	ads.rows["campaign"] = campaigns(5)
	dst := memory.New()

	opts := testOptions()
	opts.CustomerIDs = []string{"111"}
	opts.Resources = []string{"campaign"}
	opts.BatchSize = 2
	result, err := NewRunner(testDriver(ads), dst, state.NewMemoryStore(), opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Rows())
	assert.Equal(t, 3, dst.Writes())
	assert.Equal(t, 5, dst.Count("campaign"))
}

func TestRunSkipsEmptyMergeLoads(t *testing.T) {
	dst := memory.New()
	opts := testOptions()
	opts.Resources = []string{"campaign"}

	result, err := NewRunner(testDriver(newFakeAds()), dst, state.NewMemoryStore(), opts).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 0, dst.Writes())
}

func TestRunReplaceWithNoRowsClearsCustomer(t *testing.T) {
	ads := newFakeAds()
	ads.rows["customer_client"] = clients("ENABLED", "CANCELED")
	dst := memory.New()
	store := state.NewMemoryStore()

	opts := testOptions()
	opts.Resources = []string{"customer_client"}
	_, err := NewRunner(testDriver(ads), dst, store, opts).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, dst.Count("customer_client"))

	ads.rows["customer_client"] = nil
	opts.CustomerIDs = []string{"111"}
	_, err = NewRunner(testDriver(ads), dst, store, opts).Run(context.Background())
	require.NoError(t, err)

	rows := dst.Rows("customer_client")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "222", r.CustomerID)
	}
}

func TestRunRejectsUnknownResource(t *testing.T) {
	opts := testOptions()
	opts.Resources = []string{"campaign", "keyword_view_typo"}
	_, err := NewRunner(testDriver(newFakeAds()), memory.New(), state.NewMemoryStore(), opts).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ads := newFakeAds()
	ads.rows["campaign"] = campaigns(1)
	opts := testOptions()
	opts.Resources = []string{"campaign"}
	result, err := NewRunner(testDriver(ads), memory.New(), state.NewMemoryStore(), opts).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	require.NotNil(t, result)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, testOptions().Validate())

	opts := testOptions()
	opts.CustomerIDs = nil
	assert.True(t, errors.IsType(opts.Validate(), errors.ErrorTypeValidation))

	opts = testOptions()
	opts.StartDate = civil.Date{}
	assert.True(t, errors.IsType(opts.Validate(), errors.ErrorTypeValidation))

	opts = testOptions()
	opts.FirstRun = "sometimes"
	assert.True(t, errors.IsType(opts.Validate(), errors.ErrorTypeValidation))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Run.CustomerIDs = []string{"111"}
	cfg.Run.StartDate = "2024-01-01"
	cfg.Run.Resources = []string{"campaign"}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 1}, opts.StartDate)
	assert.Equal(t, 30, opts.ConversionWindowDays)
	assert.Equal(t, config.FirstRunAuto, opts.FirstRun)
	assert.Equal(t, 5000, opts.BatchSize)

	cfg.Run.StartDate = "01/02/2024"
	_, err = OptionsFromConfig(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestResultErrIsNilWithoutFailures(t *testing.T) {
	r := &Result{Resources: []ResourceResult{{CustomerID: "1", Resource: "campaign", Rows: 2}}}
	assert.NoError(t, r.Err())
	assert.Empty(t, r.Failed())
	assert.Equal(t, int64(2), r.Rows())
}
