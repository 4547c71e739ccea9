package gaql

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name       string
		fields     []string
		table      string
		conditions []string
		orderBy    string
		limit      int
		want       string
	}{
		{
			name:   "select only",
			fields: []string{"a", "b"},
			table:  "t",
			want:   "SELECT a, b FROM t",
		},
		{
			name:   "single field",
			fields: []string{"campaign.id"},
			table:  "campaign",
			want:   "SELECT campaign.id FROM campaign",
		},
		{
			name:       "conditions keep input order",
			fields:     []string{"a"},
			table:      "t",
			conditions: []string{"c2", "c1"},
			want:       "SELECT a FROM t WHERE c2 AND c1",
		},
		{
			name:       "empty conditions omit where",
			fields:     []string{"a"},
			table:      "t",
			conditions: []string{},
			want:       "SELECT a FROM t",
		},
		{
			name:    "order by",
			fields:  []string{"a"},
			table:   "t",
			orderBy: "a",
			want:    "SELECT a FROM t ORDER BY a ASC",
		},
		{
			name:   "limit",
			fields: []string{"a"},
			table:  "t",
			limit:  1000,
			want:   "SELECT a FROM t LIMIT 1000",
		},
		{
			name:       "all clauses",
			fields:     []string{"change_event.resource_name", "change_event.change_date_time"},
			table:      "change_event",
			conditions: []string{"change_event.change_date_time during LAST_14_DAYS"},
			orderBy:    "change_event.change_date_time",
			limit:      1000,
			want: "SELECT change_event.resource_name, change_event.change_date_time FROM change_event" +
				" WHERE change_event.change_date_time during LAST_14_DAYS" +
				" ORDER BY change_event.change_date_time ASC LIMIT 1000",
		},
		{
			name:       "conditions are not escaped",
			fields:     []string{"a"},
			table:      "t",
			conditions: []string{"name = 'it''s'"},
			want:       "SELECT a FROM t WHERE name = 'it''s'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.fields, tt.table, tt.conditions, tt.orderBy, tt.limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClauseOrderIndependentOfOptionOrder(t *testing.T) {
	a := New([]string{"f"}, "t", Limit(5), OrderBy("f"), Where("x"))
	b := New([]string{"f"}, "t", Where("x"), OrderBy("f"), Limit(5))

	assert.Equal(t, "SELECT f FROM t WHERE x ORDER BY f ASC LIMIT 5", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestQueryIsImmutable(t *testing.T) {
	fields := []string{"a", "b"}
	conds := []string{"c1"}
	q := New(fields, "t", Where(conds...))

	fields[0] = "mutated"
	conds[0] = "mutated"
	q.Fields()[1] = "mutated"

	assert.Equal(t, "SELECT a, b FROM t WHERE c1", q.String())
	assert.Equal(t, "t", q.Table())
	assert.Equal(t, []string{"c1"}, q.Conditions())
}

func TestConditionHelpers(t *testing.T) {
	start := civil.Date{Year: 2024, Month: time.January, Day: 3}
	end := civil.Date{Year: 2024, Month: time.January, Day: 20}

	assert.Equal(t, "segments.date BETWEEN '2024-01-03' AND '2024-01-20'", DateBetween(start, end))
	assert.Equal(t, "segments.date = '2024-01-03'", DateEquals(start))
	assert.Equal(t, "change_event.change_date_time during LAST_14_DAYS",
		During("change_event.change_date_time", "LAST_14_DAYS"))
}
