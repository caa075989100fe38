package config

import (
	"time"

	"github.com/opusatlas/refdata/pkg/models"
)

// Loader ids bound to categories. Each id selects one extractor registered
// in pkg/extract.
const (
	// LoaderScriptPerson parses person/composer entries from a JSON object
	// embedded in an inline script block.
	LoaderScriptPerson = "script_person"
	// LoaderScriptWork parses composition entries (with facet counts) from
	// an embedded JSON object.
	LoaderScriptWork = "script_work"
	// LoaderTablePerson parses a paginated HTML name/count table into
	// composer entries.
	LoaderTablePerson = "table_person"
	// LoaderTablePerformer parses the same table shape into performer
	// entries.
	LoaderTablePerformer = "table_performer"
	// LoaderTreeWork parses the nested work -> performance -> track HTML
	// tree of composition pages.
	LoaderTreeWork = "tree_work"
	// LoaderBulkPersonWork parses a single bulk JSON dump that yields
	// persons and their works from one payload.
	LoaderBulkPersonWork = "bulk_person_work"
)

// Default headers sent to every source. Individual sources may extend or
// replace these in their own http_headers.
var defaultHeaders = map[string]string{
	"User-Agent": "refdata/0.1 (catalog aggregation; contact admin@opusatlas.org)",
	"Accept":     "text/html,application/json;q=0.9,*/*;q=0.8",
}

// BuiltIn returns the registry of the five reference sources the engine
// aggregates. The table is data, interpreted by the extractor variants; it
// replaces what might otherwise be a subclass per source.
func BuiltIn() *Registry {
	return NewRegistry(
		&SourceConfig{
			ID:   "imslp",
			Name: "International Music Score Library Project",
			Categories: map[string]CategoryConfig{
				"composers": {
					Loader: LoaderScriptPerson,
					Kinds:  []models.EntityKind{models.KindComposer},
				},
				"compositions": {
					Loader: LoaderScriptWork,
					Kinds:  []models.EntityKind{models.KindWork},
				},
			},
			CategoryOrder: []string{"composers", "compositions"},
			FetchURL:      "https://imslp.org/index.php?title=Category:<CATEGORY>",
			FetchParams:   map[string]string{"letter": "<KEY>"},
			FetchFormat:   FormatHTML,
			DataFormat:    FormatJSON,
			FetchInterval: 5 * time.Second,
			DfltKeys:      KeysAlphabet,
			HTTPHeaders:   defaultHeaders,
		},
		&SourceConfig{
			ID:   "presto",
			Name: "Presto Music",
			Categories: map[string]CategoryConfig{
				"composers": {
					Loader: LoaderTablePerson,
					Kinds:  []models.EntityKind{models.KindComposer},
				},
				"artists": {
					Loader:     LoaderTablePerformer,
					Kinds:      []models.EntityKind{models.KindPerformer},
					Role:       "performer",
					AddlParams: map[string]string{"role": "<ROLE>"},
				},
				"conductors": {
					Loader:     LoaderTablePerformer,
					Kinds:      []models.EntityKind{models.KindPerformer},
					Role:       "conductor",
					AddlParams: map[string]string{"role": "<ROLE>"},
				},
			},
			CategoryOrder: []string{"composers", "artists", "conductors"},
			FetchURL:      "https://www.prestomusic.com/classical/browse/<CATEGORY>",
			FetchParams:   map[string]string{"letter": "<KEY>"},
			FetchFormat:   FormatHTML,
			DataFormat:    FormatHTML,
			FetchInterval: 2 * time.Second,
			DfltKeys:      KeysAlphabet,
			HTTPHeaders:   defaultHeaders,
		},
		&SourceConfig{
			ID:   "arkiv",
			Name: "ArkivMusic",
			Categories: map[string]CategoryConfig{
				"composers": {
					Loader: LoaderTablePerson,
					Kinds:  []models.EntityKind{models.KindComposer},
				},
				"performers": {
					Loader: LoaderTablePerformer,
					Kinds:  []models.EntityKind{models.KindPerformer},
				},
			},
			CategoryOrder: []string{"composers", "performers"},
			FetchURL:      "https://www.arkivmusic.com/pages/browse/<CATEGORY>",
			FetchParams:   map[string]string{"namestartswith": "<KEY>"},
			FetchFormat:   FormatHTML,
			DataFormat:    FormatHTML,
			FetchInterval: 2 * time.Second,
			DfltKeys:      KeysAlphabet,
			HTTPHeaders:   defaultHeaders,
		},
		&SourceConfig{
			ID:   "clmu",
			Name: "Classical Music Library",
			Categories: map[string]CategoryConfig{
				"composers": {
					Loader:   LoaderTablePerson,
					Kinds:    []models.EntityKind{models.KindComposer},
					PageSize: 100,
				},
				"compositions": {
					Loader:   LoaderTreeWork,
					Kinds:    []models.EntityKind{models.KindWork},
					PageSize: 50,
				},
			},
			CategoryOrder: []string{"composers", "compositions"},
			FetchURL:      "https://clmu.org/browse/<CATEGORY>",
			FetchParams:   map[string]string{"page": "<KEY>"},
			FetchFormat:   FormatHTML,
			DataFormat:    FormatHTML,
			FetchInterval: 1 * time.Second,
			DfltKeys:      KeysPages,
			HTTPHeaders:   defaultHeaders,
		},
		&SourceConfig{
			ID:   "openopus",
			Name: "Open Opus",
			Categories: map[string]CategoryConfig{
				"dump": {
					Loader: LoaderBulkPersonWork,
					// Person before work so composer references resolve
					// when compositions are normalized.
					Kinds: []models.EntityKind{models.KindPerson, models.KindWork},
				},
			},
			CategoryOrder: []string{"dump"},
			FetchURL:      "https://api.openopus.org/<CATEGORY>/list.json",
			FetchFormat:   FormatJSON,
			DataFormat:    FormatJSON,
			FetchInterval: 10 * time.Second,
			DfltKeys:      KeysSingle,
			HTTPHeaders:   defaultHeaders,
		},
	)
}
