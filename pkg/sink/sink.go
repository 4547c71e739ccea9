// Package sink defines where extracted records are loaded and keeps the
// registry of sink implementations.
//
// A Sink receives batches of one resource and one customer. The batch's
// disposition decides how it is applied:
//
//   - merge upserts each record on the customer id plus the merge key, so
//     loading the same rows twice leaves one copy of each
//   - replace removes the customer's existing rows on the first batch of a
//     load, then inserts
//   - append inserts without deduplication
//
// Sink implementations live in sub-packages and register themselves from
// init. Import github.com/ajitpratap0/adsync/pkg/sink/all to link all of
// them.
package sink

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
)

// Sink loads record batches into a destination
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	// Write applies one batch. Batches of a resource arrive in order.
	Write(ctx context.Context, batch *models.Batch) error
	// Close flushes buffered data and releases connections
	Close(ctx context.Context) error
}

// Factory creates a sink from the destination configuration
type Factory func(ctx context.Context, cfg config.DestinationConfig) (Sink, error)

// Registry maps sink type names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Get().With(zap.String("component", "sink_registry")),
	}
}

// Register adds a factory under name
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "sink %s already registered", name)
	}
	r.factories[name] = factory
	r.logger.Debug("sink registered", zap.String("name", name))
	return nil
}

// Create builds the sink registered under name
func (r *Registry) Create(ctx context.Context, name string, cfg config.DestinationConfig) (Sink, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "sink %s not found", name).
			WithDetail("available", r.Names())
	}

	s, err := factory(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create sink "+name)
	}
	return s, nil
}

// Names lists the registered sinks, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Register adds a factory to the global registry
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// New creates the sink selected by cfg.Type from the global registry
func New(ctx context.Context, cfg config.DestinationConfig) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid destination")
	}
	return globalRegistry.Create(ctx, cfg.Type, cfg)
}

// Names lists the sinks of the global registry
func Names() []string {
	return globalRegistry.Names()
}
