package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// ResourceResult is the outcome of one (customer, resource) task
type ResourceResult struct {
	CustomerID string
	Resource   string
	Rows       int64
	FirstRun   bool
	Duration   time.Duration
	Err        error
}

// Result summarizes a run
type Result struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Resources []ResourceResult
}

// Rows returns the rows written across all tasks
func (r *Result) Rows() int64 {
	var n int64
	for _, rr := range r.Resources {
		n += rr.Rows
	}
	return n
}

// Failed returns the tasks that ended with an error
func (r *Result) Failed() []ResourceResult {
	var out []ResourceResult
	for _, rr := range r.Resources {
		if rr.Err != nil {
			out = append(out, rr)
		}
	}
	return out
}

// Err returns nil when every task succeeded. Otherwise it wraps the first
// failure, keeping its type, and lists the failed pairs.
func (r *Result) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	pairs := make([]string, len(failed))
	for i, rr := range failed {
		pairs[i] = rr.CustomerID + "/" + rr.Resource
	}

	errType := errors.ErrorTypeInternal
	var cause *errors.Error
	if errors.As(failed[0].Err, &cause) {
		errType = cause.Type
	}
	return errors.Wrap(failed[0].Err, errType,
		fmt.Sprintf("%d of %d resources failed", len(failed), len(r.Resources))).
		WithDetail("failed", pairs)
}

func (r *Result) sort() {
	sort.Slice(r.Resources, func(i, j int) bool {
		a, b := r.Resources[i], r.Resources[j]
		if a.CustomerID != b.CustomerID {
			return a.CustomerID < b.CustomerID
		}
		return a.Resource < b.Resource
	})
}
