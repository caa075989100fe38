// Package sink provides the durable destinations for merged canonical
// entities. Sinks are created by name through a factory registry; the
// pipeline consumes the Sink interface and never knows the concrete
// destination. Sink failures are surfaced to the run but never roll back the
// in-memory merge.
package sink

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

// Sink receives merged canonical entities.
type Sink interface {
	// Open prepares the destination for writes.
	Open(ctx context.Context) error
	// Accept persists one entity. An entity may be accepted more than once
	// per run as later sources update it; sinks overwrite by identity.
	Accept(ctx context.Context, e *models.CanonicalEntity) error
	// Close flushes and releases the destination.
	Close(ctx context.Context) error
}

// Factory creates a sink from its string options.
type Factory func(opts map[string]string, logger *zap.Logger) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register binds a factory to a sink name. Re-registering a name panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("sink: duplicate registration: " + name)
	}
	registry[name] = f
}

// Create instantiates the named sink.
func Create(name string, opts map[string]string, logger *zap.Logger) (Sink, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown sink %q", name)
	}
	return f(opts, logger)
}

// List returns the registered sink names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
