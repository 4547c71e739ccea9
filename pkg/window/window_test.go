package window

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestComputeRange(t *testing.T) {
	tests := []struct {
		name      string
		today     string
		start     string
		window    int
		firstRun  bool
		wantStart string
		wantEnd   string
	}{
		{
			name:      "first run starts at start date",
			today:     "2024-01-10",
			start:     "2024-01-01",
			window:    7,
			firstRun:  true,
			wantStart: "2024-01-01",
			wantEnd:   "2024-01-10",
		},
		{
			name:      "incremental run re-pulls the conversion window",
			today:     "2024-01-20",
			start:     "2024-01-10",
			window:    7,
			wantStart: "2024-01-03",
			wantEnd:   "2024-01-20",
		},
		{
			name:      "zero window",
			today:     "2024-01-20",
			start:     "2024-01-10",
			wantStart: "2024-01-10",
			wantEnd:   "2024-01-20",
		},
		{
			name:      "window crosses a leap day",
			today:     "2024-03-05",
			start:     "2024-03-02",
			window:    3,
			wantStart: "2024-02-28",
			wantEnd:   "2024-03-05",
		},
		{
			name:      "future start is not validated",
			today:     "2024-01-10",
			start:     "2024-02-01",
			firstRun:  true,
			wantStart: "2024-02-01",
			wantEnd:   "2024-01-10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(FixedClock(date(t, tt.today)))
			got := p.ComputeRange(date(t, tt.start), tt.window, tt.firstRun)
			assert.Equal(t, Range{Start: date(t, tt.wantStart), End: date(t, tt.wantEnd)}, got)
		})
	}
}

func TestRangeCondition(t *testing.T) {
	p := NewPlanner(FixedClock(date(t, "2024-01-20")))
	r := p.ComputeRange(date(t, "2024-01-10"), 7, false)

	assert.Equal(t, "segments.date BETWEEN '2024-01-03' AND '2024-01-20'", r.Condition())
	assert.Equal(t, 18, r.Days())

	inverted := Range{Start: date(t, "2024-02-01"), End: date(t, "2024-01-10")}
	assert.Equal(t, 0, inverted.Days())
	assert.Equal(t, "segments.date BETWEEN '2024-02-01' AND '2024-01-10'", inverted.Condition())
}

func TestComputeSlicesFirstRun(t *testing.T) {
	p := NewPlanner(FixedClock(date(t, "2024-01-05")))
	slices := p.ComputeSlices(date(t, "2024-01-01"), true, DefaultLookbackDays)

	assert.Equal(t, []string{
		"segments.date = '2024-01-01'",
		"segments.date = '2024-01-02'",
		"segments.date = '2024-01-03'",
		"segments.date = '2024-01-04'",
		"segments.date = '2024-01-05'",
	}, slices.Conditions())
}

func TestComputeSlicesFirstRunCappedByLookback(t *testing.T) {
	today := date(t, "2024-06-30")
	p := NewPlanner(FixedClock(today))

	slices := p.ComputeSlices(date(t, "2020-01-01"), true, 90)

	require.Len(t, slices, 91)
	assert.Equal(t, today.AddDays(-90), slices[0])
	assert.Equal(t, today, slices[len(slices)-1])
	for i := 1; i < len(slices); i++ {
		assert.Equal(t, 1, slices[i].DaysSince(slices[i-1]), "slices must be consecutive and distinct")
	}
}

func TestComputeSlicesFirstRunStartAfterToday(t *testing.T) {
	p := NewPlanner(FixedClock(date(t, "2024-01-05")))
	assert.Empty(t, p.ComputeSlices(date(t, "2024-02-01"), true, 90))
}

func TestComputeSlicesIncremental(t *testing.T) {
	p := NewPlanner(FixedClock(date(t, "2024-03-01")))

	for _, start := range []string{"2020-01-01", "2024-02-29", "2025-01-01"} {
		slices := p.ComputeSlices(date(t, start), false, 90)
		assert.Equal(t, SliceSet{date(t, "2024-02-29"), date(t, "2024-02-28")}, slices)
	}

	// lookback is irrelevant on incremental runs
	assert.Len(t, p.ComputeSlices(date(t, "2024-01-01"), false, 0), 2)
}

func TestSystemClockUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Pacific/Kiritimati")
	require.NoError(t, err)

	got := SystemClock{Location: loc}.Today()
	assert.Equal(t, civil.DateOf(time.Now().In(loc)), got)

	assert.NotNil(t, NewPlanner(nil).Today())
}
