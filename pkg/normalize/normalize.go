// Package normalize maps source-shaped RawRecords into the canonical entity
// schema. Normalization is pure and total: it never fails, and unparseable
// year or catalog suffixes are left empty rather than erroring. The display
// name keeps its original casing and diacritics; identity comparison happens
// on the folded, surname-first sort key.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/opusatlas/refdata/pkg/models"
)

var (
	// flSuffixRe matches trailing floruit hints: ", fl. 1971",
	// " fl. 1430-1439".
	flSuffixRe = regexp.MustCompile(`^(.+?),? fl\. (\d{1,4})(?:-\d{0,4})?$`)
	// datesSuffixRe matches trailing life dates: ", 1825-1898", " 1975-".
	// Years are not forced to four digits; sources vary.
	datesSuffixRe = regexp.MustCompile(`^(.+?),? (\d{3,4})-(\d{0,4})$`)
	// embeddedCommaRe finds a comma jammed between letters, a frequent
	// listing artifact ("Bach,Johann").
	embeddedCommaRe = regexp.MustCompile(`(\p{L}),(\p{L})`)
	// catalogRe splits a trailing opus/catalog token from a work title.
	catalogRe = regexp.MustCompile(`^(.*?),\s*((?:Op\.|K\.?|BWV|D\.|Hob\.|RV|HWV|WoO)\s*\d[\w:./ -]*)$`)
)

// NameYears are the life-date hints parsed from a name suffix. Zero means
// absent.
type NameYears struct {
	Birth      int
	Death      int
	Flourished int
}

// ParseNameSuffix splits trailing year information from a listing name and
// returns the bare name and the parsed years. The input is returned unchanged
// as the base when no suffix matches.
func ParseNameSuffix(name string) (string, NameYears) {
	name = strings.TrimSpace(name)
	if m := flSuffixRe.FindStringSubmatch(name); m != nil {
		y, _ := strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), NameYears{Flourished: y}
	}
	if m := datesSuffixRe.FindStringSubmatch(name); m != nil {
		years := NameYears{}
		years.Birth, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			years.Death, _ = strconv.Atoi(m[3])
		}
		return strings.TrimSpace(m[1]), years
	}
	return name, NameYears{}
}

// FixupName repairs common listing artifacts: a comma jammed between letters
// gets its space back, trailing commas are stripped.
func FixupName(name string) string {
	name = embeddedCommaRe.ReplaceAllString(name, "$1, $2")
	return strings.TrimRight(strings.TrimSpace(name), ",")
}

// SplitCatalog splits a trailing opus/catalog number from a work title.
// Returns the bare title and the catalog token, or the title unchanged and ""
// when no recognized pattern is present.
func SplitCatalog(title string) (string, string) {
	if m := catalogRe.FindStringSubmatch(strings.TrimSpace(title)); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return strings.TrimSpace(title), ""
}

// PersonKey derives the identity sort key for a person name in either
// listing or forward order, ignoring any trailing year suffix.
func PersonKey(name string) string {
	base, _ := ParseNameSuffix(name)
	return Fold(SurnameFirst(FixupName(base)))
}

// Normalize canonicalizes one raw record.
func Normalize(rec *models.RawRecord) *models.CanonicalEntity {
	switch rec.Kind {
	case models.KindWork:
		return normalizeWork(rec)
	case models.KindPerformer:
		return normalizePerformer(rec)
	default:
		return normalizePerson(rec)
	}
}

func normalizePerson(rec *models.RawRecord) *models.CanonicalEntity {
	raw := strings.TrimSpace(rec.String("name"))
	base, years := ParseNameSuffix(raw)
	base = FixupName(base)

	e := &models.CanonicalEntity{
		Kind:           rec.Kind,
		DisplayName:    raw,
		SortKey:        Fold(SurnameFirst(base)),
		BirthYear:      years.Birth,
		DeathYear:      years.Death,
		FlourishedYear: years.Flourished,
	}
	if e.BirthYear == 0 {
		e.BirthYear = rec.Int("birth_year")
	}
	if e.DeathYear == 0 {
		e.DeathYear = rec.Int("death_year")
	}

	// record the forward-ordered rendering as a variant so a source listing
	// "Bristow, George Frederick" matches one listing "George Frederick
	// Bristow"
	if fwd := ForwardName(base); fwd != raw {
		e.AddVariant(fwd)
	}
	if base != raw {
		e.AddVariant(base)
	}

	attachProvenance(e, rec, func(attrs models.SourceAttrs) {
		copyAttr(attrs, rec, "count")
		copyAttr(attrs, rec, "link")
		copyAttr(attrs, rec, "epoch")
	})
	return e
}

func normalizeWork(rec *models.RawRecord) *models.CanonicalEntity {
	rawTitle := strings.TrimSpace(rec.String("title"))
	title, catalog := SplitCatalog(rawTitle)
	composerKey := PersonKey(rec.String("composer"))

	e := &models.CanonicalEntity{
		Kind:        models.KindWork,
		DisplayName: rawTitle,
		Title:       rawTitle,
		CatalogNo:   catalog,
		ComposerKey: composerKey,
		SortKey:     composerKey + "/" + Fold(title),
	}
	if facets, ok := rec.Fields["facets"].(map[string]int); ok && len(facets) > 0 {
		e.Facets = make(map[string]int, len(facets))
		for k, v := range facets {
			e.Facets[k] = v
		}
	}

	attachProvenance(e, rec, func(attrs models.SourceAttrs) {
		copyAttr(attrs, rec, "genre")
		copyAttr(attrs, rec, "composed")
		copyAttr(attrs, rec, "subtitle")
		copyAttr(attrs, rec, "short_title")
		if perfs, ok := rec.Fields["performances"].([]map[string]interface{}); ok {
			attrs["performances"] = len(perfs)
		}
	})
	return e
}

func normalizePerformer(rec *models.RawRecord) *models.CanonicalEntity {
	raw := strings.TrimSpace(rec.String("name"))
	base := FixupName(raw)

	e := &models.CanonicalEntity{
		Kind:        models.KindPerformer,
		DisplayName: raw,
		SortKey:     Fold(SurnameFirst(base)),
		WorkCount:   rec.Int("count"),
	}
	if fwd := ForwardName(base); fwd != raw {
		e.AddVariant(fwd)
	}

	attachProvenance(e, rec, func(attrs models.SourceAttrs) {
		copyAttr(attrs, rec, "count")
		copyAttr(attrs, rec, "link")
	})
	return e
}

// attachProvenance records the contributing source and its raw attributes on
// the entity.
func attachProvenance(e *models.CanonicalEntity, rec *models.RawRecord, fill func(models.SourceAttrs)) {
	e.AddSource(rec.Provenance.Source)
	attrs := models.SourceAttrs{}
	fill(attrs)
	if len(attrs) > 0 {
		e.Attrs = map[string]models.SourceAttrs{rec.Provenance.Source: attrs}
	}
}

func copyAttr(attrs models.SourceAttrs, rec *models.RawRecord, field string) {
	if v, ok := rec.Fields[field]; ok {
		attrs[field] = v
	}
}
