// Package merge maintains the run-scoped identity index: the mapping from
// (entity kind, sort key) to the current canonical entity. Merging the same
// entity from several sources unions provenance, fills missing fields and
// flags disagreements instead of overwriting; the index entry is replaced
// atomically with respect to concurrent merges, so a half-applied merge is
// never observable.
package merge

import (
	"sort"
	"strconv"
	"sync"
	"unicode"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/metrics"
	"github.com/opusatlas/refdata/pkg/models"
)

// Outcome reports what a merge did.
type Outcome string

const (
	// OutcomeCreated means the entity was new to the index.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means the entity merged into an existing one.
	OutcomeUpdated Outcome = "updated"
)

// Merger is the identity index for one ingestion run. It grows monotonically
// and is discarded at run end. A single lock serializes merges; merge work is
// in-memory and small, so finer-grained locking buys nothing.
type Merger struct {
	mu        sync.RWMutex
	index     map[models.IdentityKey]*models.CanonicalEntity
	conflicts int

	// preferred ranks source ids for field tie-breaks (title/catalog
	// formatting); earlier wins. Sources not listed rank below all listed
	// ones.
	preferred map[string]int
}

// New creates an empty identity index. preferredSources orders sources for
// field-level tie-breaks, most trusted first.
func New(preferredSources []string) *Merger {
	pref := make(map[string]int, len(preferredSources))
	for i, id := range preferredSources {
		pref[id] = i
	}
	return &Merger{
		index:     make(map[models.IdentityKey]*models.CanonicalEntity),
		preferred: pref,
	}
}

// Merge resolves the incoming entity against the index: inserts it when its
// identity is new, otherwise merges it into the existing entity. The returned
// entity is the final merged state.
func (m *Merger) Merge(in *models.CanonicalEntity) (*models.CanonicalEntity, Outcome, error) {
	if in.SortKey == "" {
		return nil, "", errors.New(errors.ErrorTypeRecord, "entity has empty sort key")
	}
	key := in.Identity()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.index[key]
	if !ok {
		stored := in.Clone()
		m.index[key] = stored
		metrics.EntitiesMerged.WithLabelValues(string(stored.Kind), string(OutcomeCreated)).Inc()
		return stored.Clone(), OutcomeCreated, nil
	}

	merged := m.mergeInto(existing.Clone(), in)
	m.index[key] = merged
	metrics.EntitiesMerged.WithLabelValues(string(merged.Kind), string(OutcomeUpdated)).Inc()
	return merged.Clone(), OutcomeUpdated, nil
}

// mergeInto applies in to dst and returns dst. dst is a private clone.
func (m *Merger) mergeInto(dst, in *models.CanonicalEntity) *models.CanonicalEntity {
	src := incomingSource(in)

	// a composer sighting upgrades a plain person
	if dst.Kind == models.KindPerson && in.Kind == models.KindComposer {
		dst.Kind = models.KindComposer
	}

	// the more complete display form wins; the loser is kept as a variant
	if betterDisplayName(in.DisplayName, dst.DisplayName) {
		dst.AddVariant(dst.DisplayName)
		dst.DisplayName = in.DisplayName
	} else {
		dst.AddVariant(in.DisplayName)
	}
	for _, v := range in.NameVariants {
		dst.AddVariant(v)
	}

	m.mergeYear(dst, in, src, "birth_year", &dst.BirthYear, in.BirthYear)
	m.mergeYear(dst, in, src, "death_year", &dst.DeathYear, in.DeathYear)
	m.mergeYear(dst, in, src, "flourished_year", &dst.FlourishedYear, in.FlourishedYear)

	m.mergeWorkFields(dst, in, src)

	if in.WorkCount > dst.WorkCount {
		dst.WorkCount = in.WorkCount
	}

	for _, id := range in.Sources {
		dst.AddSource(id)
	}
	if len(in.Attrs) > 0 {
		if dst.Attrs == nil {
			dst.Attrs = make(map[string]models.SourceAttrs, len(in.Attrs))
		}
		for id, attrs := range in.Attrs {
			// a later source never silently overwrites an earlier one; each
			// source keys its own contribution
			if _, taken := dst.Attrs[id]; !taken {
				cp := make(models.SourceAttrs, len(attrs))
				for k, v := range attrs {
					cp[k] = v
				}
				dst.Attrs[id] = cp
			}
		}
	}
	dst.Conflicts = append(dst.Conflicts, in.Conflicts...)
	return dst
}

// mergeYear fills a missing year and flags a disagreement without overwriting
// the originally accepted value.
func (m *Merger) mergeYear(dst, in *models.CanonicalEntity, src, field string, existing *int, incoming int) {
	switch {
	case incoming == 0:
	case *existing == 0:
		*existing = incoming
	case *existing != incoming:
		dst.Conflicts = append(dst.Conflicts, models.Conflict{
			Field:    field,
			Kept:     strconv.Itoa(*existing),
			Rejected: strconv.Itoa(incoming),
			Source:   src,
		})
		m.conflicts++
		metrics.ErrorsTotal.WithLabelValues(string(errors.ErrorTypeConflict)).Inc()
	}
}

// mergeWorkFields reconciles title/catalog formatting. Sources disagree on
// formatting for what is the same identity; the configured source precedence
// decides which rendering is kept, and the rejected one is recorded.
func (m *Merger) mergeWorkFields(dst, in *models.CanonicalEntity, src string) {
	if in.ComposerKey != "" && dst.ComposerKey == "" {
		dst.ComposerKey = in.ComposerKey
	}

	if in.Title != "" && dst.Title == "" {
		dst.Title = in.Title
		dst.CatalogNo = in.CatalogNo
	} else if in.Title != "" && in.Title != dst.Title {
		kept, rejected := dst.Title, in.Title
		if m.rank(src) < m.bestRank(dst.Sources) {
			kept, rejected = in.Title, dst.Title
			dst.Title = in.Title
			dst.CatalogNo = in.CatalogNo
			dst.DisplayName = in.DisplayName
		}
		dst.Conflicts = append(dst.Conflicts, models.Conflict{
			Field:    "title",
			Kept:     kept,
			Rejected: rejected,
			Source:   src,
		})
		m.conflicts++
		metrics.ErrorsTotal.WithLabelValues(string(errors.ErrorTypeConflict)).Inc()
	} else if in.CatalogNo != "" && dst.CatalogNo == "" {
		dst.CatalogNo = in.CatalogNo
	}

	if len(in.Facets) > 0 {
		if dst.Facets == nil {
			dst.Facets = make(map[string]int, len(in.Facets))
		}
		for label, count := range in.Facets {
			if cur, ok := dst.Facets[label]; !ok || count > cur {
				dst.Facets[label] = count
			}
		}
	}
}

func (m *Merger) rank(source string) int {
	if r, ok := m.preferred[source]; ok {
		return r
	}
	return len(m.preferred)
}

func (m *Merger) bestRank(sources []string) int {
	best := len(m.preferred)
	for _, s := range sources {
		if r := m.rank(s); r < best {
			best = r
		}
	}
	return best
}

// incomingSource is the source id responsible for the incoming entity. An
// entity fresh from normalization has exactly one source.
func incomingSource(in *models.CanonicalEntity) string {
	if len(in.Sources) > 0 {
		return in.Sources[len(in.Sources)-1]
	}
	return ""
}

// betterDisplayName reports whether a is the more complete rendering than b:
// longer wins, then the form retaining more non-ASCII (diacritic) characters,
// then the lexicographically smaller so the outcome is order-independent.
func betterDisplayName(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	na, nb := nonASCII(a), nonASCII(b)
	if na != nb {
		return na > nb
	}
	return a < b
}

func nonASCII(s string) int {
	n := 0
	for _, r := range s {
		if r > unicode.MaxASCII {
			n++
		}
	}
	return n
}

// Get returns the current entity for an identity key.
func (m *Merger) Get(key models.IdentityKey) (*models.CanonicalEntity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// ConflictCount returns the total number of merge-time field disagreements
// recorded so far this run.
func (m *Merger) ConflictCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conflicts
}

// Len returns the number of distinct entities in the index.
func (m *Merger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// Entities returns a snapshot of all entities, ordered by kind then sort key.
func (m *Merger) Entities() []*models.CanonicalEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CanonicalEntity, 0, len(m.index))
	for _, e := range m.index {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].SortKey < out[j].SortKey
	})
	return out
}
