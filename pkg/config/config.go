// Package config provides the declarative source/category configuration
// model for the refdata engine. Each external reference site is described by
// a SourceConfig: its categories, the extraction loader bound to each
// category, the URL/parameter templates with <CATEGORY>, <KEY> and <ROLE>
// placeholders, transport and payload formats, and the minimum spacing
// between requests.
//
// The built-in source table (see sources.go) is loaded once at process start
// and is immutable afterwards; many fetchers and key iterators read it
// concurrently. A YAML overlay file can add sources or adjust fields of the
// built-in ones.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

// Format identifies a wire or payload encoding.
type Format string

const (
	// FormatHTML is an HTML document.
	FormatHTML Format = "html"
	// FormatJSON is a JSON document (possibly embedded in HTML transport).
	FormatJSON Format = "json"
)

// KeyScheme selects the pagination-key enumeration policy for a source.
type KeyScheme string

const (
	// KeysAlphabet enumerates a..z plus one symbol bucket.
	KeysAlphabet KeyScheme = "alphabet"
	// KeysPages enumerates numeric page indices 0,1,2,...
	KeysPages KeyScheme = "pages"
	// KeysSingle performs exactly one fetch with a sentinel key.
	KeysSingle KeyScheme = "single"
)

// Placeholder tokens recognized in fetch_url and fetch_params values.
const (
	TokenCategory = "<CATEGORY>"
	TokenKey      = "<KEY>"
	TokenRole     = "<ROLE>"
)

// CategoryConfig describes one kind of listing page within a source.
type CategoryConfig struct {
	// Loader selects the extractor and target entity kind(s).
	Loader string `yaml:"loader"`
	// Kinds is the ordered list of entity kinds a multi-kind loader emits
	// per payload (e.g. person before work so composer references resolve).
	// Single-kind loaders leave it empty.
	Kinds []models.EntityKind `yaml:"kinds,omitempty"`
	// AddlParams are merged into request parameters for this category only.
	AddlParams map[string]string `yaml:"addl_params,omitempty"`
	// Role is a site-specific facet discriminator substituted for <ROLE>.
	Role string `yaml:"role,omitempty"`
	// PageSize is the expected record count of a full page for numeric-page
	// sources; a shorter page terminates the category.
	PageSize int `yaml:"page_size,omitempty"`
}

// SourceConfig is the static, declarative description of one external
// reference site.
type SourceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Categories maps category name to its configuration; CategoryOrder
	// preserves declaration order for deterministic runs.
	Categories    map[string]CategoryConfig `yaml:"categories"`
	CategoryOrder []string                  `yaml:"category_order,omitempty"`

	// FetchURL is the URL template; it contains the <CATEGORY> placeholder.
	FetchURL string `yaml:"fetch_url"`
	// FetchParams are base request parameters; values may contain the
	// <KEY> and <ROLE> placeholders.
	FetchParams map[string]string `yaml:"fetch_params,omitempty"`
	// FetchFormat is the transport payload encoding.
	FetchFormat Format `yaml:"fetch_format"`
	// DataFormat is the logical content encoding after extraction; it
	// governs which extractor family applies.
	DataFormat Format `yaml:"data_format"`
	// FetchInterval is the minimum spacing between requests to this source.
	FetchInterval time.Duration `yaml:"fetch_interval"`
	// DfltKeys is the pagination scheme for the source.
	DfltKeys KeyScheme `yaml:"dflt_keys"`
	// HTTPHeaders are fixed request headers (user agent, accept, etc.).
	HTTPHeaders map[string]string `yaml:"http_headers,omitempty"`
}

// Category returns the named category config.
func (s *SourceConfig) Category(name string) (CategoryConfig, bool) {
	c, ok := s.Categories[name]
	return c, ok
}

// CategoryNames returns category names in declaration order. Sources without
// a declared order (overlay files may omit it) fall back to sorted names so
// runs stay deterministic.
func (s *SourceConfig) CategoryNames() []string {
	if len(s.CategoryOrder) == len(s.Categories) {
		return s.CategoryOrder
	}
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds the immutable set of configured sources.
type Registry struct {
	sources map[string]*SourceConfig
	order   []string
}

// NewRegistry creates a registry from the given sources, preserving order.
func NewRegistry(sources ...*SourceConfig) *Registry {
	r := &Registry{sources: make(map[string]*SourceConfig, len(sources))}
	for _, s := range sources {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s *SourceConfig) {
	if _, exists := r.sources[s.ID]; !exists {
		r.order = append(r.order, s.ID)
	}
	r.sources[s.ID] = s
}

// Source returns the source with the given id.
func (r *Registry) Source(id string) (*SourceConfig, bool) {
	s, ok := r.sources[id]
	return s, ok
}

// IDs returns source ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Sources returns all sources in registration order.
func (r *Registry) Sources() []*SourceConfig {
	out := make([]*SourceConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// overlayFile is the YAML overlay document shape.
type overlayFile struct {
	Sources []*SourceConfig `yaml:"sources"`
}

// LoadOverlay reads a YAML overlay file and merges its sources into the
// registry. A source with a known id replaces the built-in definition;
// unknown ids are appended.
func (r *Registry) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read source overlay")
	}
	var doc overlayFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse source overlay")
	}
	for _, s := range doc.Sources {
		if s.ID == "" {
			return errors.New(errors.ErrorTypeConfig, "overlay source missing id")
		}
		r.add(s)
	}
	return nil
}

// Validate checks every source against the set of known loaders. A
// configuration that references an unknown loader is run-fatal, so this is
// called once before any pipeline starts. knownLoader reports whether a
// loader id has a registered extractor.
func (r *Registry) Validate(knownLoader func(string) bool) error {
	for _, id := range r.order {
		s := r.sources[id]
		if s.FetchURL == "" {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: fetch_url is required", id)
		}
		if !strings.Contains(s.FetchURL, TokenCategory) {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: fetch_url must contain %s", id, TokenCategory)
		}
		if s.FetchFormat != FormatHTML && s.FetchFormat != FormatJSON {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: unknown fetch_format %q", id, s.FetchFormat)
		}
		if s.DataFormat != FormatHTML && s.DataFormat != FormatJSON {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: unknown data_format %q", id, s.DataFormat)
		}
		switch s.DfltKeys {
		case KeysAlphabet, KeysPages, KeysSingle:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "source %s: unknown dflt_keys %q", id, s.DfltKeys)
		}
		if s.FetchInterval < 0 {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: negative fetch_interval", id)
		}
		if len(s.Categories) == 0 {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: no categories configured", id)
		}
		for name, cat := range s.Categories {
			if cat.Loader == "" {
				return errors.Newf(errors.ErrorTypeConfig, "source %s category %s: loader is required", id, name)
			}
			if !knownLoader(cat.Loader) {
				return errors.Newf(errors.ErrorTypeConfig, "source %s category %s: unknown loader %q", id, name, cat.Loader)
			}
			if s.DfltKeys == KeysPages && cat.PageSize <= 0 {
				return errors.Newf(errors.ErrorTypeConfig, "source %s category %s: page_size required for paged source", id, name)
			}
			if cat.Role != "" && !paramsReference(s.FetchParams, cat.AddlParams, TokenRole) {
				return errors.Newf(errors.ErrorTypeConfig, "source %s category %s: role set but no parameter references %s", id, name, TokenRole)
			}
		}
		if s.DfltKeys != KeysSingle && !strings.Contains(s.FetchURL, TokenKey) && !paramsReference(s.FetchParams, nil, TokenKey) {
			return errors.Newf(errors.ErrorTypeConfig, "source %s: paginated source has no %s placeholder", id, TokenKey)
		}
	}
	return nil
}

func paramsReference(base, addl map[string]string, token string) bool {
	for _, v := range base {
		if strings.Contains(v, token) {
			return true
		}
	}
	for _, v := range addl {
		if strings.Contains(v, token) {
			return true
		}
	}
	return false
}
