// Package metrics provides Prometheus instrumentation for adsync.
//
// # Overview
//
// Collectors are registered on the default registry through promauto when
// the package is loaded. The extraction driver counts rows and queries, the
// Google Ads client counts API responses by status, sinks count loaded rows,
// and the pipeline records per-resource outcomes and run durations.
//
// # Basic Usage
//
//	metrics.RowsExtracted.WithLabelValues("campaign").Inc()
//
//	timer := metrics.NewTimer()
//	runQuery()
//	metrics.QueryDuration.WithLabelValues("campaign").Observe(timer.Stop().Seconds())
//
// Long-running deployments expose Handler on /metrics. One-shot runs push
// their final values to a Pushgateway with Push.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shirou/gopsutil/v3/process"
)

const namespace = "adsync"

var (
	// RowsExtracted counts records yielded by the extraction driver.
	// Labels: resource
	RowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Total number of rows extracted from the Google Ads API",
		},
		[]string{"resource"},
	)

	// QueriesExecuted counts GAQL queries by outcome (success/failure)
	QueriesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_executed_total",
			Help:      "Total number of GAQL queries executed",
		},
		[]string{"resource", "outcome"},
	)

	// QueryDuration tracks how long a query stream takes to drain, in seconds
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of GAQL query streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"resource"},
	)

	// APIRequests counts searchStream responses by HTTP status code
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total Google Ads API requests by status code",
		},
		[]string{"code"},
	)

	// RowsLoaded counts records written by a sink
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Total number of rows written to the destination",
		},
		[]string{"sink", "resource"},
	)

	// ResourceRuns counts resource extractions by status (success/failure)
	ResourceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_runs_total",
			Help:      "Total resource extractions by final status",
		},
		[]string{"resource", "status"},
	)

	// LastSuccess records the unix time of the last successful load per resource
	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful load of a resource",
		},
		[]string{"resource"},
	)

	// RunDuration tracks whole run durations in seconds
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of extraction runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// ProcessRSS is the resident set size of the process, sampled after each run
	ProcessRSS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident set size of the adsync process",
		},
	)
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Push sends the default registry to a Pushgateway under job
func Push(url, job string) error {
	return push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", hostname()).
		Push()
}

// SampleProcess updates ProcessRSS and returns the sampled value
func SampleProcess() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	ProcessRSS.Set(float64(mem.RSS))
	return mem.RSS, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Timer measures an operation duration
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started.
// It can be called more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
