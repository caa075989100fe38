package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register("memory", func(_ map[string]string, _ *zap.Logger) (Sink, error) {
		return NewMemorySink(), nil
	})
}

// MemorySink collects entities in memory, keyed by identity. Used by tests
// and dry runs to observe exactly what would reach a durable destination.
type MemorySink struct {
	mu       sync.Mutex
	entities map[models.IdentityKey]*models.CanonicalEntity
	accepts  int
	closed   bool

	// FailOn makes Accept fail for a given sort key, to exercise the
	// skip-and-continue sink error policy.
	FailOn string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{entities: make(map[models.IdentityKey]*models.CanonicalEntity)}
}

func (s *MemorySink) Open(_ context.Context) error { return nil }

func (s *MemorySink) Accept(_ context.Context, e *models.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeSink, "memory sink closed")
	}
	if s.FailOn != "" && e.SortKey == s.FailOn {
		return errors.Newf(errors.ErrorTypeSink, "configured failure for %q", e.SortKey)
	}
	s.entities[e.Identity()] = e.Clone()
	s.accepts++
	return nil
}

func (s *MemorySink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns the last accepted entity for an identity.
func (s *MemorySink) Get(key models.IdentityKey) (*models.CanonicalEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[key]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Len returns the number of distinct identities accepted.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// Accepts returns the total number of Accept calls.
func (s *MemorySink) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}
