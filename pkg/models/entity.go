// Package models provides the data model for the refdata ingestion engine:
// the source-shaped RawRecord produced by extractors and the unified
// CanonicalEntity emitted to sinks after normalization and merge.
package models

// EntityKind identifies the kind of catalog entity a record describes.
type EntityKind string

const (
	// KindPerson is a person that is not (yet) known to be a composer.
	KindPerson EntityKind = "person"
	// KindComposer is a composer. Composers share the person identity space,
	// so a composer and a person with the same sort key are the same entity.
	KindComposer EntityKind = "composer"
	// KindWork is a composition.
	KindWork EntityKind = "work"
	// KindPerformer is a performer or ensemble.
	KindPerformer EntityKind = "performer"
)

// IdentitySpace returns the kind under which the entity is indexed.
// Composers are indexed as persons so that the same individual seen as a
// plain person on one source and as a composer on another merges into one
// entity.
func (k EntityKind) IdentitySpace() EntityKind {
	if k == KindComposer {
		return KindPerson
	}
	return k
}

// Provenance records where a raw record was scraped from.
type Provenance struct {
	Source   string `json:"source"`
	Category string `json:"category"`
	Key      string `json:"key"`
}

// RawRecord is the source-specific, pre-normalization representation of one
// scraped entry: a bag of raw field values tagged with its entity kind and
// provenance. RawRecords are transient and discarded after normalization.
type RawRecord struct {
	Kind       EntityKind
	Fields     map[string]interface{}
	Provenance Provenance
}

// NewRawRecord creates a raw record of the given kind.
func NewRawRecord(kind EntityKind, prov Provenance) *RawRecord {
	return &RawRecord{
		Kind:       kind,
		Fields:     make(map[string]interface{}),
		Provenance: prov,
	}
}

// String returns the named field as a string, or "" if absent.
func (r *RawRecord) String(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// Int returns the named field as an int, or 0 if absent.
func (r *RawRecord) Int(field string) int {
	switch v := r.Fields[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// IdentityKey is the identity of a canonical entity: two entities with equal
// identity keys are the same logical entity and must be merged, never
// duplicated.
type IdentityKey struct {
	Kind    EntityKind
	SortKey string
}

// SourceAttrs holds one source's raw contribution to an entity. Attributes
// are keyed by source id on the entity so a later source never silently
// overwrites an earlier one.
type SourceAttrs map[string]interface{}

// Conflict records a merge-time disagreement between sources on a single
// field. The originally accepted value is kept; the rejected value and the
// source that proposed it are retained for inspection.
type Conflict struct {
	Field    string `json:"field"`
	Kept     string `json:"kept"`
	Rejected string `json:"rejected"`
	Source   string `json:"source"`
}

// CanonicalEntity is the unified, source-agnostic record shape shared by all
// sources. Exactly which fields are populated depends on Kind.
type CanonicalEntity struct {
	Kind EntityKind `json:"kind"`

	// DisplayName retains original casing and diacritics.
	DisplayName string `json:"display_name"`
	// SortKey is the normalized surname-first identity key component:
	// case-folded, diacritics folded to base letters.
	SortKey string `json:"sort_key"`
	// NameVariants are alternate renderings of the name seen on sources
	// (e.g. forward-ordered form of a surname-first listing).
	NameVariants []string `json:"name_variants,omitempty"`

	// Person/composer fields. Zero means unknown.
	BirthYear      int `json:"birth_year,omitempty"`
	DeathYear      int `json:"death_year,omitempty"`
	FlourishedYear int `json:"flourished_year,omitempty"`

	// Work fields.
	Title string `json:"title,omitempty"`
	// ComposerKey references the composer by normalized sort key.
	ComposerKey string `json:"composer_key,omitempty"`
	// CatalogNo is the opus/catalog number split from the title, if any.
	CatalogNo string `json:"catalog_no,omitempty"`
	// Facets maps facet label to count as reported by sources.
	Facets map[string]int `json:"facets,omitempty"`

	// Performer fields.
	WorkCount int `json:"work_count,omitempty"`

	// Sources is the ordered set of contributing source ids.
	Sources []string `json:"sources"`
	// Attrs maps source id to that source's raw per-source attributes.
	Attrs map[string]SourceAttrs `json:"attrs,omitempty"`
	// Conflicts holds non-fatal merge disagreements (e.g. year conflicts).
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Identity returns the entity's identity key.
func (e *CanonicalEntity) Identity() IdentityKey {
	return IdentityKey{Kind: e.Kind.IdentitySpace(), SortKey: e.SortKey}
}

// HasSource reports whether the given source already contributed to e.
func (e *CanonicalEntity) HasSource(id string) bool {
	for _, s := range e.Sources {
		if s == id {
			return true
		}
	}
	return false
}

// AddSource appends a source id to the provenance set if not present.
func (e *CanonicalEntity) AddSource(id string) {
	if !e.HasSource(id) {
		e.Sources = append(e.Sources, id)
	}
}

// HasVariant reports whether the given name variant is already recorded.
func (e *CanonicalEntity) HasVariant(name string) bool {
	for _, v := range e.NameVariants {
		if v == name {
			return true
		}
	}
	return false
}

// AddVariant records a name variant if new and distinct from the display name.
func (e *CanonicalEntity) AddVariant(name string) {
	if name == "" || name == e.DisplayName || e.HasVariant(name) {
		return
	}
	e.NameVariants = append(e.NameVariants, name)
}

// Clone returns a deep copy of the entity. Merges operate on copies so a
// half-applied merge is never visible through the index.
func (e *CanonicalEntity) Clone() *CanonicalEntity {
	out := *e
	out.NameVariants = append([]string(nil), e.NameVariants...)
	out.Sources = append([]string(nil), e.Sources...)
	out.Conflicts = append([]Conflict(nil), e.Conflicts...)
	if e.Facets != nil {
		out.Facets = make(map[string]int, len(e.Facets))
		for k, v := range e.Facets {
			out.Facets[k] = v
		}
	}
	if e.Attrs != nil {
		out.Attrs = make(map[string]SourceAttrs, len(e.Attrs))
		for src, attrs := range e.Attrs {
			cp := make(SourceAttrs, len(attrs))
			for k, v := range attrs {
				cp[k] = v
			}
			out.Attrs[src] = cp
		}
	}
	return &out
}
