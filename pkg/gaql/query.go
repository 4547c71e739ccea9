// Package gaql assembles Google Ads Query Language statements.
//
// The builder is plain string assembly. Conditions are inserted verbatim and
// are never escaped, so they must only come from trusted helpers such as
// DateBetween or from static resource definitions.
package gaql

import (
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

// Query is an immutable GAQL statement description
type Query struct {
	fields     []string
	table      string
	conditions []string
	orderBy    string
	limit      int
}

// Option sets an optional clause on a Query
type Option func(*Query)

// Where appends AND-combined conditions in the given order
func Where(conditions ...string) Option {
	return func(q *Query) {
		q.conditions = append(q.conditions, conditions...)
	}
}

// OrderBy sorts ascending on field
func OrderBy(field string) Option {
	return func(q *Query) {
		q.orderBy = field
	}
}

// Limit caps the number of rows; n <= 0 means no limit
func Limit(n int) Option {
	return func(q *Query) {
		q.limit = n
	}
}

// New creates a Query selecting fields from table.
// The slices are copied so later changes by the caller are not observed.
func New(fields []string, table string, opts ...Option) Query {
	q := Query{
		fields: append([]string(nil), fields...),
		table:  table,
	}
	for _, opt := range opts {
		opt(&q)
	}
	q.conditions = append([]string(nil), q.conditions...)
	return q
}

// Table returns the FROM resource
func (q Query) Table() string { return q.table }

// Fields returns a copy of the selected fields
func (q Query) Fields() []string { return append([]string(nil), q.fields...) }

// Conditions returns a copy of the WHERE conditions
func (q Query) Conditions() []string { return append([]string(nil), q.conditions...) }

// String renders the statement. Clauses always appear as
// SELECT, FROM, WHERE, ORDER BY, LIMIT regardless of option order.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.table)

	if len(q.conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conditions, " AND "))
	}
	if q.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.orderBy)
		b.WriteString(" ASC")
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.limit))
	}
	return b.String()
}

// Build renders a statement in one call. Empty conditions, an empty orderBy
// and a non-positive limit omit their clauses.
func Build(fields []string, table string, conditions []string, orderBy string, limit int) string {
	return New(fields, table, Where(conditions...), OrderBy(orderBy), Limit(limit)).String()
}

// DateBetween renders an inclusive segments.date range filter
func DateBetween(start, end civil.Date) string {
	return "segments.date BETWEEN '" + start.String() + "' AND '" + end.String() + "'"
}

// DateEquals renders a single-day segments.date filter
func DateEquals(d civil.Date) string {
	return "segments.date = '" + d.String() + "'"
}

// During renders a predefined date range filter such as LAST_14_DAYS
func During(field, dateRange string) string {
	return field + " during " + dateRange
}
