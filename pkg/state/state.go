// Package state records which (customer, resource) pairs have been loaded.
//
// The pipeline asks the store whether a pair has ever completed to decide
// the first-run flag of an extraction, and writes an entry after each
// successful load. Entries live in a single JSON document kept on local
// disk, in a GCS object, or in memory.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// documentVersion is bumped when the document layout changes
const documentVersion = 1

// Entry is the state of one (customer, resource) pair
type Entry struct {
	CustomerID string `json:"customer_id"`
	Resource   string `json:"resource"`
	// LastSuccess is when the last load completed
	LastSuccess time.Time `json:"last_success"`
	// Through is the last date, YYYY-MM-DD, covered by that load
	Through string `json:"through,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Rows    int64  `json:"rows"`
}

// Key identifies an entry inside the document
func (e Entry) Key() string {
	return Key(e.CustomerID, e.Resource)
}

// Key builds the document key of a pair
func Key(customerID, resource string) string {
	return customerID + "/" + resource
}

// Store persists entries
type Store interface {
	// Get returns the entry of a pair; ok is false when it has never loaded
	Get(ctx context.Context, customerID, resource string) (entry Entry, ok bool, err error)
	// Put records a successful load
	Put(ctx context.Context, entry Entry) error
	// List returns every entry sorted by key
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

type document struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

func newDocument() *document {
	return &document{Version: documentVersion, Entries: make(map[string]Entry)}
}

func decodeDocument(data []byte, source string) (*document, error) {
	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := gojson.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode state").
			WithDetail("source", source)
	}
	if doc.Version > documentVersion {
		return nil, errors.Newf(errors.ErrorTypeData, "state version %d is newer than supported %d", doc.Version, documentVersion).
			WithDetail("source", source)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	doc.Version = documentVersion
	return doc, nil
}

func (d *document) encode() ([]byte, error) {
	data, err := gojson.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode state")
	}
	return data, nil
}

func (d *document) sorted() []Entry {
	out := make([]Entry, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// backend reads and writes the raw document
type backend interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, data []byte) error
	name() string
	close() error
}

// docStore is a Store over a backend. Every Put rewrites the document;
// the mutex serializes writers of this process.
type docStore struct {
	mu      sync.Mutex
	backend backend
}

func (s *docStore) load(ctx context.Context) (*document, error) {
	data, err := s.backend.read(ctx)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data, s.backend.name())
}

func (s *docStore) Get(ctx context.Context, customerID, resource string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := doc.Entries[Key(customerID, resource)]
	return e, ok, nil
}

func (s *docStore) Put(ctx context.Context, entry Entry) error {
	if entry.CustomerID == "" || entry.Resource == "" {
		return errors.New(errors.ErrorTypeValidation, "state entry needs a customer id and a resource")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	doc.Entries[entry.Key()] = entry
	data, err := doc.encode()
	if err != nil {
		return err
	}
	return s.backend.write(ctx, data)
}

func (s *docStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.sorted(), nil
}

func (s *docStore) Close() error {
	return s.backend.close()
}

// MemoryStore keeps entries for the life of the process
type MemoryStore struct {
	mu  sync.RWMutex
	doc *document
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: newDocument()}
}

func (m *MemoryStore) Get(_ context.Context, customerID, resource string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.doc.Entries[Key(customerID, resource)]
	return e, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, entry Entry) error {
	if entry.CustomerID == "" || entry.Resource == "" {
		return errors.New(errors.ErrorTypeValidation, "state entry needs a customer id and a resource")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Entries[entry.Key()] = entry
	return nil
}

func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.sorted(), nil
}

func (m *MemoryStore) Close() error { return nil }
