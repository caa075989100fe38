// Package refdata aggregates classical music catalog listings (composers,
// compositions, performers) from multiple external reference sites into one
// canonical entity set.
//
// Each site exposes its listings in a different wire shape: JSON embedded in
// inline script blocks, paginated HTML name/count tables, nested HTML
// work/performance/track trees, or a single bulk JSON dump. The engine
// describes every site declaratively (pkg/config), walks its pagination keys
// (pkg/keyiter), fetches pages with per-source pacing and retries
// (pkg/clients, pkg/fetch), extracts raw records (pkg/extract), normalizes
// them into the canonical schema (pkg/normalize, pkg/models), merges
// identities across sources (pkg/merge) and emits the merged entities to a
// pluggable sink (pkg/sink).
//
// # Identity
//
// Entities are keyed by (kind, sort key). The sort key is the surname-first,
// case- and diacritic-folded form of a name, so "Antonín Dvořák" on one site
// and "Dvorak, Antonin, 1841-1904" on another merge into a single entity.
// Composers share the person identity space: a plain person sighting and a
// composer sighting of the same name are one entity. Works are keyed under
// their composer's sort key.
//
// # Usage
//
// The refdata binary drives ingestion runs:
//
//	refdata list
//	refdata run --sources clmu,openopus --sink jsonl
//	refdata run --sources presto --keys a-f --dry-run
//	refdata run --resume clmu/composers=4 --sink postgres
//
// Merged entities land in the configured sink; the jsonl sink is the
// default. A run summary is printed per (source, category) at the end.
package refdata
