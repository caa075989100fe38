// Package extract turns one fetched payload into zero or more RawRecords.
// Dispatch is a pure function of the loader id bound to the category: each
// loader selects one extractor variant, registered here at init time. A
// payload that does not match its extractor's expected shape at all is a
// structural parse error; a single malformed entry within an otherwise valid
// page is confined to that entry and counted as skipped.
package extract

import (
	"sync"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/keyiter"
	"github.com/opusatlas/refdata/pkg/metrics"
	"github.com/opusatlas/refdata/pkg/models"
)

// Result is the outcome of extracting one payload.
type Result struct {
	// Records are the extracted raw records, in page order. Multi-kind
	// loaders emit kinds in their declared order (e.g. person before work).
	Records []*models.RawRecord
	// FollowUps are pagination keys discovered inside the page (e.g.
	// "show all" links) that the driver should feed back to its iterator.
	FollowUps []keyiter.Key
	// Skipped counts entries dropped for record-level errors.
	Skipped int
}

// Extractor parses one payload shape.
type Extractor interface {
	Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Extractor)
)

// Register binds an extractor to a loader id. Called from init functions;
// re-registering a loader id panics.
func Register(loader string, e Extractor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[loader]; dup {
		panic("extract: duplicate loader registration: " + loader)
	}
	registry[loader] = e
}

// Known reports whether a loader id has a registered extractor. The config
// registry validates against this before a run starts.
func Known(loader string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[loader]
	return ok
}

// Loaders returns the registered loader ids.
func Loaders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	return out
}

// Extract dispatches the payload to the extractor registered for the
// category's loader and records extraction metrics.
func Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error) {
	registryMu.RLock()
	e, ok := registry[cat.Loader]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no extractor registered for loader %q", cat.Loader)
	}

	res, err := e.Extract(payload, cat)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(errors.TypeOf(err))).Inc()
		return nil, err
	}
	for _, rec := range res.Records {
		metrics.RecordsExtracted.WithLabelValues(payload.Source, payload.Category, string(rec.Kind)).Inc()
	}
	return res, nil
}

// kindOf resolves the category's target entity kind, falling back to the
// loader's natural kind when an overlay omits the kinds list.
func kindOf(cat *config.CategoryConfig, fallback models.EntityKind) models.EntityKind {
	if len(cat.Kinds) > 0 {
		return cat.Kinds[0]
	}
	return fallback
}

// provenance builds the provenance tag for records from a payload.
func provenance(payload *fetch.Payload) models.Provenance {
	return models.Provenance{
		Source:   payload.Source,
		Category: payload.Category,
		Key:      payload.Key,
	}
}
