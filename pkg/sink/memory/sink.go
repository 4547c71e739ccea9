// Package memory is a sink that keeps tables in process memory. It applies
// the same dispositions as the warehouse sinks and backs tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "memory"

var _ sink.Sink = (*Sink)(nil)

type table struct {
	// keys holds row positions by merge key; nil for append-only tables
	keys map[string]int
	rows []models.Record
}

// Sink stores records per resource
type Sink struct {
	mu     sync.RWMutex
	tables map[string]*table
	writes int
	closed bool
}

// New creates an empty sink
func New() *Sink {
	return &Sink{tables: make(map[string]*table)}
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(_ context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeInternal, "memory sink is closed")
	}
	t := s.tables[batch.Resource]
	if t == nil {
		t = &table{keys: make(map[string]int)}
		s.tables[batch.Resource] = t
	}

	if batch.Disposition == models.DispositionReplace && batch.First {
		t.deleteCustomer(batch.CustomerID)
	}

	for _, rec := range batch.Records {
		if batch.Disposition != models.DispositionMerge {
			t.rows = append(t.rows, rec)
			continue
		}
		k := rec.Key()
		if i, ok := t.keys[k]; ok {
			t.rows[i] = rec
			continue
		}
		t.keys[k] = len(t.rows)
		t.rows = append(t.rows, rec)
	}
	s.writes++
	return nil
}

func (t *table) deleteCustomer(customerID string) {
	kept := t.rows[:0]
	for _, r := range t.rows {
		if r.CustomerID != customerID {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	t.keys = make(map[string]int, len(kept))
	for i, r := range kept {
		if len(r.MergeKey) > 0 {
			t.keys[r.Key()] = i
		}
	}
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Rows returns a copy of a resource's rows in insertion order
func (s *Sink) Rows(resource string) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[resource]
	if t == nil {
		return nil
	}
	return append([]models.Record(nil), t.rows...)
}

// Count returns the number of rows of a resource
func (s *Sink) Count(resource string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.tables[resource]; t != nil {
		return len(t.rows)
	}
	return 0
}

// Resources lists the tables written so far, sorted
func (s *Sink) Resources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Writes returns how many batches were applied
func (s *Sink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
