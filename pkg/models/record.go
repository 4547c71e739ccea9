// Package models provides the data models shared by the extraction driver,
// the sinks and the pipeline.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WriteDisposition tells a sink how to apply the records of one resource
type WriteDisposition string

const (
	// DispositionMerge upserts on the merge key
	DispositionMerge WriteDisposition = "merge"
	// DispositionReplace truncates the target before loading
	DispositionReplace WriteDisposition = "replace"
	// DispositionAppend inserts without deduplication
	DispositionAppend WriteDisposition = "append"
)

// keySeparator joins merge-key values; it cannot appear in API values
const keySeparator = "\x1f"

// Record is one flattened row returned by the API for a resource.
// Data keys are flattened field names such as campaign__id.
type Record struct {
	Resource    string         `json:"resource"`
	CustomerID  string         `json:"customer_id"`
	MergeKey    []string       `json:"merge_key,omitempty"`
	Data        map[string]any `json:"data"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// NewRecord creates a record stamped with the current time
func NewRecord(resource, customerID string, mergeKey []string, data map[string]any) Record {
	return Record{
		Resource:    resource,
		CustomerID:  customerID,
		MergeKey:    mergeKey,
		Data:        data,
		ExtractedAt: time.Now().UTC(),
	}
}

// Key renders the merge-key tuple. Records without a merge key are keyed
// on all their fields in sorted order, so identical rows still collapse.
// The customer id is always part of the key.
func (r Record) Key() string {
	var b strings.Builder
	b.WriteString(r.CustomerID)

	fields := r.MergeKey
	if len(fields) == 0 {
		fields = r.Fields()
	}
	for _, f := range fields {
		b.WriteString(keySeparator)
		b.WriteString(FormatValue(r.Data[f]))
	}
	return b.String()
}

// KeyValues returns the merge-key values in merge-key order
func (r Record) KeyValues() []any {
	out := make([]any, len(r.MergeKey))
	for i, f := range r.MergeKey {
		out[i] = r.Data[f]
	}
	return out
}

// Fields returns the record's field names sorted
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r.Data))
	for k := range r.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// FormatValue renders a value the way keys and text formats print it
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Field describes one column of a resource
type Field struct {
	// Name is the GAQL field path, e.g. campaign.id
	Name string `json:"name"`
	// Column is the flattened record key, e.g. campaign__id
	Column string `json:"column"`
	// Type is the JSON schema type: string, integer, number, boolean, object or array
	Type string `json:"type"`
}

// Schema is the column layout of a resource, in query field order
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Columns returns the flattened column names in order
func (s Schema) Columns() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Column
	}
	return out
}

// Lookup finds a field by column name
func (s Schema) Lookup(column string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// Batch is an ordered group of records of one resource and customer
type Batch struct {
	Resource    string
	CustomerID  string
	Disposition WriteDisposition
	MergeKey    []string
	Schema      Schema
	// First marks the first batch of a load. Replace sinks clear the
	// customer's existing rows when they see it.
	First   bool
	Records []Record
}

// Len returns the number of records in the batch
func (b *Batch) Len() int { return len(b.Records) }

// Add appends a record
func (b *Batch) Add(r Record) { b.Records = append(b.Records, r) }

// Reset clears the records and keeps the capacity
func (b *Batch) Reset() { b.Records = b.Records[:0] }
