package bigquery

import (
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Schema maps a table layout to a BigQuery schema
func Schema(l sink.Layout) bigquery.Schema {
	out := make(bigquery.Schema, len(l.Columns))
	for i, c := range l.Columns {
		out[i] = &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     fieldType(c.Type),
			Required: c.Name == sink.CustomerColumn,
		}
	}
	return out
}

func fieldType(t string) bigquery.FieldType {
	switch t {
	case sink.TypeInteger:
		return bigquery.IntegerFieldType
	case sink.TypeNumber:
		return bigquery.FloatFieldType
	case sink.TypeBoolean:
		return bigquery.BooleanFieldType
	case sink.TypeObject, sink.TypeArray:
		return bigquery.JSONFieldType
	case sink.TypeTimestamp:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

// missingFields returns the fields of want that have is lacking
func missingFields(have, want bigquery.Schema) bigquery.Schema {
	seen := make(map[string]bool, len(have))
	for _, f := range have {
		seen[strings.ToLower(f.Name)] = true
	}
	var out bigquery.Schema
	for _, f := range want {
		if !seen[strings.ToLower(f.Name)] {
			// added columns must be nullable
			added := *f
			added.Required = false
			out = append(out, &added)
		}
	}
	return out
}

// quote renders a backquoted table path
func quote(parts ...string) string {
	return "`" + strings.Join(parts, ".") + "`"
}

func column(name string) string {
	return "`" + name + "`"
}

// MergeSQL renders the statement merging a staging table into target on
// the layout's key
func MergeSQL(target, staging string, l sink.Layout) string {
	on := make([]string, len(l.Key))
	for i, k := range l.Key {
		on[i] = "T." + column(k) + " = S." + column(k)
	}
	var sets []string
	for _, c := range l.NonKey() {
		sets = append(sets, column(c.Name)+" = S."+column(c.Name))
	}
	cols := make([]string, len(l.Columns))
	vals := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		cols[i] = column(c.Name)
		vals[i] = "S." + column(c.Name)
	}

	var b strings.Builder
	b.WriteString("MERGE " + target + " T USING " + staging + " S ON ")
	b.WriteString(strings.Join(on, " AND "))
	if len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", "))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(vals, ", ") + ")")
	return b.String()
}

// DeleteSQL renders the statement clearing one customer's rows
func DeleteSQL(target string) string {
	return "DELETE FROM " + target + " WHERE " + column(sink.CustomerColumn) + " = @customer_id"
}
