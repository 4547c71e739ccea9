// Package window computes the date windows a resource query covers on a run.
//
// Two policies exist. The standard policy yields one contiguous Range that
// re-pulls the conversion window on incremental runs so late attribution
// updates are ingested again. The daily-slice policy yields one date per
// query for report types the API only serves one day at a time.
//
// The planner never validates its output: a start date in the future
// produces a Range whose Start is after its End, and the API answers such
// a query with zero rows.
package window

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/ajitpratap0/adsync/pkg/gaql"
)

// DefaultLookbackDays is how far back click-level reports can be retrieved
const DefaultLookbackDays = 90

// Policy names the date window strategy of a resource
type Policy string

const (
	// PolicyRange queries one contiguous range
	PolicyRange Policy = "range"
	// PolicyDailySlices queries one calendar day per request
	PolicyDailySlices Policy = "daily_slices"
	// PolicyFixed uses static conditions and no planner
	PolicyFixed Policy = "fixed"
)

// Clock supplies the current calendar date
type Clock interface {
	Today() civil.Date
}

// SystemClock reads the wall clock in a location.
// A nil Location means the local zone.
type SystemClock struct {
	Location *time.Location
}

// Today returns the current date in the clock's location
func (c SystemClock) Today() civil.Date {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return civil.DateOf(time.Now().In(loc))
}

// FixedClock always returns the same date
type FixedClock civil.Date

// Today returns the fixed date
func (c FixedClock) Today() civil.Date {
	return civil.Date(c)
}

// Range is an inclusive calendar date interval
type Range struct {
	Start civil.Date
	End   civil.Date
}

// Condition renders the range as a segments.date filter
func (r Range) Condition() string {
	return gaql.DateBetween(r.Start, r.End)
}

// Days returns the number of calendar days covered, zero for an inverted range
func (r Range) Days() int {
	if r.Start.After(r.End) {
		return 0
	}
	return r.End.DaysSince(r.Start) + 1
}

// SliceSet is an ordered list of single dates
type SliceSet []civil.Date

// Conditions renders one segments.date equality filter per slice, in order
func (s SliceSet) Conditions() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = gaql.DateEquals(d)
	}
	return out
}

// Planner computes date windows against a clock
type Planner struct {
	clock Clock
}

// NewPlanner creates a planner; a nil clock means the local system clock
func NewPlanner(clock Clock) *Planner {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Planner{clock: clock}
}

// Today exposes the planner's notion of the current date
func (p *Planner) Today() civil.Date {
	return p.clock.Today()
}

// ComputeRange implements the standard policy.
// First runs cover start..today; later runs cover
// (start - conversionWindowDays)..today.
func (p *Planner) ComputeRange(start civil.Date, conversionWindowDays int, firstRun bool) Range {
	today := p.clock.Today()
	if firstRun {
		return Range{Start: start, End: today}
	}
	return Range{Start: start.AddDays(-conversionWindowDays), End: today}
}

// ComputeSlices implements the daily-slice policy.
// First runs enumerate every day from max(start, today - lookbackDays)
// through today, ascending. Later runs always return yesterday followed by
// the day before, independent of any conversion window.
func (p *Planner) ComputeSlices(start civil.Date, firstRun bool, lookbackDays int) SliceSet {
	today := p.clock.Today()
	if !firstRun {
		return SliceSet{today.AddDays(-1), today.AddDays(-2)}
	}

	effective := start
	if cutoff := today.AddDays(-lookbackDays); cutoff.After(effective) {
		effective = cutoff
	}

	var slices SliceSet
	for d := effective; !d.After(today); d = d.AddDays(1) {
		slices = append(slices, d)
	}
	return slices
}
