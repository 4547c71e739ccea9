package sink

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/models"
)

// Columns every table carries besides the resource's own fields
const (
	CustomerColumn    = "customer_id"
	ExtractedAtColumn = "_extracted_at"
)

// Column types follow the JSON schema types of the resource definition,
// plus TypeTimestamp for the extraction time.
const (
	TypeString    = "string"
	TypeInteger   = "integer"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeObject    = "object"
	TypeArray     = "array"
	TypeTimestamp = "timestamp"
)

// Column is one column of a destination table
type Column struct {
	Name string
	Type string
}

// Layout is the column set of a batch's destination table
type Layout struct {
	Columns []Column
	// Key lists the columns rows are deduplicated on; empty unless the
	// disposition is merge
	Key []string
}

// NewLayout derives the table layout of a batch: the customer id, the
// schema columns in declaration order, any record field missing from the
// schema in sorted order, and the extraction time.
func NewLayout(batch *models.Batch) Layout {
	cols := []Column{{Name: CustomerColumn, Type: TypeString}}
	seen := map[string]bool{CustomerColumn: true, ExtractedAtColumn: true}

	for _, f := range batch.Schema.Fields {
		if seen[f.Column] {
			continue
		}
		seen[f.Column] = true
		typ := f.Type
		if typ == "" {
			typ = TypeString
		}
		cols = append(cols, Column{Name: f.Column, Type: typ})
	}

	var extra []string
	for _, rec := range batch.Records {
		for k := range rec.Data {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		cols = append(cols, Column{Name: k, Type: TypeString})
	}
	cols = append(cols, Column{Name: ExtractedAtColumn, Type: TypeTimestamp})

	l := Layout{Columns: cols}
	if batch.Disposition == models.DispositionMerge && len(batch.MergeKey) > 0 {
		l.Key = append([]string{CustomerColumn}, batch.MergeKey...)
	}
	return l
}

// Names returns the column names in order
func (l Layout) Names() []string {
	out := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		out[i] = c.Name
	}
	return out
}

// IsKey reports whether name is part of the key
func (l Layout) IsKey(name string) bool {
	for _, k := range l.Key {
		if k == name {
			return true
		}
	}
	return false
}

// NonKey returns the columns outside the key
func (l Layout) NonKey() []Column {
	out := make([]Column, 0, len(l.Columns))
	for _, c := range l.Columns {
		if !l.IsKey(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// Values returns the row of rec in column order, normalized to the column
// types
func (l Layout) Values(rec models.Record) []any {
	out := make([]any, len(l.Columns))
	for i, c := range l.Columns {
		switch c.Name {
		case CustomerColumn:
			out[i] = rec.CustomerID
		case ExtractedAtColumn:
			out[i] = rec.ExtractedAt
		default:
			out[i] = Normalize(c.Type, rec.Data[c.Name])
		}
	}
	return out
}

// Document returns rec as a map keyed by column name
func (l Layout) Document(rec models.Record) map[string]any {
	vals := l.Values(rec)
	doc := make(map[string]any, len(vals))
	for i, c := range l.Columns {
		doc[c.Name] = vals[i]
	}
	return doc
}

// Object returns rec like Document, with object and array columns
// embedded as JSON values instead of JSON text
func (l Layout) Object(rec models.Record) map[string]any {
	doc := l.Document(rec)
	for _, c := range l.Columns {
		if c.Type != TypeObject && c.Type != TypeArray {
			continue
		}
		if s, ok := doc[c.Name].(string); ok && json.Valid([]byte(s)) {
			doc[c.Name] = json.RawMessage(s)
		}
	}
	return doc
}

// Normalize converts an API value to the Go type of a column. The API
// encodes 64-bit integers as strings; those are parsed back. Objects and
// arrays become JSON text. Values that do not parse are kept as they are.
func Normalize(typ string, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeInteger:
		switch t := v.(type) {
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
		case float64:
			if t == math.Trunc(t) {
				return int64(t)
			}
		case int:
			return int64(t)
		}
	case TypeNumber:
		switch t := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		case int64:
			return float64(t)
		case int:
			return float64(t)
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return b
			}
		}
	case TypeObject, TypeArray:
		if s, ok := v.(string); ok {
			return s
		}
		if s, err := json.MarshalString(v); err == nil {
			return s
		}
	case TypeString:
		switch v.(type) {
		case string:
		case map[string]any, []any:
			if s, err := json.MarshalString(v); err == nil {
				return s
			}
		default:
			return models.FormatValue(v)
		}
	}
	return v
}

// TableName builds a destination table name from a prefix and a resource
func TableName(prefix, resource string) string {
	return strings.ToLower(prefix + resource)
}
