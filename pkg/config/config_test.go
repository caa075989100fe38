package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/extract"
	"github.com/opusatlas/refdata/pkg/models"
)

func TestBuiltInRegistryIsValid(t *testing.T) {
	registry := config.BuiltIn()
	require.NoError(t, registry.Validate(extract.Known))

	// the five reference sources, in declaration order
	assert.Equal(t, []string{"imslp", "presto", "arkiv", "clmu", "openopus"}, registry.IDs())
}

func TestBuiltInCategoryOrder(t *testing.T) {
	registry := config.BuiltIn()

	src, ok := registry.Source("clmu")
	require.True(t, ok)
	// composers must load before the compositions that reference them
	assert.Equal(t, []string{"composers", "compositions"}, src.CategoryNames())

	oo, ok := registry.Source("openopus")
	require.True(t, ok)
	dump, ok := oo.Category("dump")
	require.True(t, ok)
	assert.Equal(t, []models.EntityKind{models.KindPerson, models.KindWork}, dump.Kinds)
}

func validSource() *config.SourceConfig {
	return &config.SourceConfig{
		ID:   "demo",
		Name: "Demo",
		Categories: map[string]config.CategoryConfig{
			"composers": {Loader: config.LoaderTablePerson, Kinds: []models.EntityKind{models.KindComposer}},
		},
		CategoryOrder: []string{"composers"},
		FetchURL:      "https://example.org/browse/<CATEGORY>",
		FetchParams:   map[string]string{"letter": "<KEY>"},
		FetchFormat:   config.FormatHTML,
		DataFormat:    config.FormatHTML,
		DfltKeys:      config.KeysAlphabet,
	}
}

func TestValidateUnknownLoaderIsFatal(t *testing.T) {
	src := validSource()
	src.Categories["composers"] = config.CategoryConfig{Loader: "carrier_pigeon"}

	err := config.NewRegistry(src).Validate(extract.Known)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
	assert.True(t, errors.IsFatal(err))
}

func TestValidateRejectsMissingPlaceholders(t *testing.T) {
	src := validSource()
	src.FetchURL = "https://example.org/browse"
	err := config.NewRegistry(src).Validate(extract.Known)
	require.Error(t, err, "fetch_url without <CATEGORY> must be rejected")

	src = validSource()
	src.FetchParams = map[string]string{"letter": "fixed"}
	err = config.NewRegistry(src).Validate(extract.Known)
	require.Error(t, err, "paginated source without <KEY> must be rejected")
}

func TestValidateRejectsBadFormats(t *testing.T) {
	src := validSource()
	src.DataFormat = config.Format("xml")
	require.Error(t, config.NewRegistry(src).Validate(extract.Known))

	src = validSource()
	src.DfltKeys = config.KeyScheme("spiral")
	require.Error(t, config.NewRegistry(src).Validate(extract.Known))
}

func TestValidateRequiresPageSizeForPagedSources(t *testing.T) {
	src := validSource()
	src.DfltKeys = config.KeysPages
	src.FetchParams = map[string]string{"page": "<KEY>"}
	require.Error(t, config.NewRegistry(src).Validate(extract.Known))

	src.Categories["composers"] = config.CategoryConfig{
		Loader:   config.LoaderTablePerson,
		Kinds:    []models.EntityKind{models.KindComposer},
		PageSize: 100,
	}
	require.NoError(t, config.NewRegistry(src).Validate(extract.Known))
}

func TestValidateRoleNeedsRoleParam(t *testing.T) {
	src := validSource()
	src.Categories["composers"] = config.CategoryConfig{
		Loader: config.LoaderTablePerson,
		Kinds:  []models.EntityKind{models.KindComposer},
		Role:   "performer",
	}
	require.Error(t, config.NewRegistry(src).Validate(extract.Known))
}

func TestLoadOverlayReplacesAndAppends(t *testing.T) {
	overlay := `
sources:
  - id: imslp
    name: IMSLP (staging)
    fetch_url: https://staging.example.org/index.php?title=Category:<CATEGORY>
    fetch_params:
      letter: "<KEY>"
    fetch_format: html
    data_format: json
    dflt_keys: alphabet
    categories:
      composers:
        loader: script_person
        kinds: [composer]
  - id: extra
    name: Extra Source
    fetch_url: https://extra.example.org/<CATEGORY>
    fetch_params:
      letter: "<KEY>"
    fetch_format: html
    data_format: html
    dflt_keys: alphabet
    categories:
      composers:
        loader: table_person
        kinds: [composer]
`
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	registry := config.BuiltIn()
	require.NoError(t, registry.LoadOverlay(path))

	src, ok := registry.Source("imslp")
	require.True(t, ok)
	assert.Equal(t, "IMSLP (staging)", src.Name)

	_, ok = registry.Source("extra")
	assert.True(t, ok)

	// replaced sources keep their position; new ones append
	ids := registry.IDs()
	assert.Equal(t, "imslp", ids[0])
	assert.Equal(t, "extra", ids[len(ids)-1])

	require.NoError(t, registry.Validate(extract.Known))
}

func TestLoadOverlayMissingFile(t *testing.T) {
	registry := config.BuiltIn()
	err := registry.LoadOverlay("/does/not/exist.yaml")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
}
