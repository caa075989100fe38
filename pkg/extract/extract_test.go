package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/models"
)

func payloadFor(source, category, key, body string) *fetch.Payload {
	return &fetch.Payload{
		Source:   source,
		Category: category,
		Key:      key,
		Status:   200,
		Body:     []byte(body),
	}
}

func TestRegistryKnowsBuiltInLoaders(t *testing.T) {
	for _, loader := range []string{
		config.LoaderScriptPerson,
		config.LoaderScriptWork,
		config.LoaderTablePerson,
		config.LoaderTablePerformer,
		config.LoaderTreeWork,
		config.LoaderBulkPersonWork,
	} {
		assert.True(t, Known(loader), "loader %s not registered", loader)
	}
	assert.False(t, Known("carrier_pigeon"))
}

func TestExtractUnknownLoader(t *testing.T) {
	_, err := Extract(payloadFor("x", "c", "a", ""), &config.CategoryConfig{Loader: "carrier_pigeon"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
}

func TestDecodeFacetToken(t *testing.T) {
	label, count, err := decodeFacetToken(`NNaxos\0`)
	require.NoError(t, err)
	assert.Equal(t, "Naxos", label)
	assert.Equal(t, 0, count)

	label, count, err = decodeFacetToken(`SScores\2`)
	require.NoError(t, err)
	assert.Equal(t, "Scores", label)
	assert.Equal(t, 2, count)

	_, _, err = decodeFacetToken(`SScores2`) // missing separator
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeRecord, errors.TypeOf(err))

	_, _, err = decodeFacetToken(`S\x`) // non-numeric count
	require.Error(t, err)
}

func TestEmbeddedJSONWorks(t *testing.T) {
	body := `<html><head><script>var x = 1;</script>
<script type="text/javascript">
catInit({"s": ["Symphony No. 5 in C Minor, Op. 67 (Beethoven, Ludwig van)|NNaxos\\0|SScores\\2",
              "Serenade (Schubert, Franz)"]});
</script></head><body></body></html>`

	cat := &config.CategoryConfig{Loader: config.LoaderScriptWork, Kinds: []models.EntityKind{models.KindWork}}
	res, err := Extract(payloadFor("imslp", "compositions", "s", body), cat)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Zero(t, res.Skipped)

	first := res.Records[0]
	assert.Equal(t, models.KindWork, first.Kind)
	assert.Equal(t, "Symphony No. 5 in C Minor, Op. 67", first.String("title"))
	assert.Equal(t, "Beethoven, Ludwig van", first.String("composer"))
	assert.Equal(t, map[string]int{"Naxos": 0, "Scores": 2}, first.Fields["facets"])
	assert.Equal(t, "imslp", first.Provenance.Source)
	assert.Equal(t, "s", first.Provenance.Key)

	second := res.Records[1]
	assert.Equal(t, "Serenade", second.String("title"))
	assert.Equal(t, "Schubert, Franz", second.String("composer"))
	assert.Empty(t, second.Fields["facets"])
}

func TestEmbeddedJSONMalformedEntryConfined(t *testing.T) {
	// the middle entry's facet token lacks its separator; only that entry is
	// dropped
	body := `<script>catInit({"b": [
		"Ballade No. 1 (Chopin, Frédéric)|SScores\\3",
		"Broken Entry (Someone)|SScores3",
		"Bolero (Ravel, Maurice)|NNaxos\\1"
	]});</script>`

	cat := &config.CategoryConfig{Loader: config.LoaderScriptWork, Kinds: []models.EntityKind{models.KindWork}}
	res, err := Extract(payloadFor("imslp", "compositions", "b", body), cat)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Ballade No. 1", res.Records[0].String("title"))
	assert.Equal(t, "Bolero", res.Records[1].String("title"))
}

func TestEmbeddedJSONPersons(t *testing.T) {
	body := `<script>catInit({"d": ["Dvořák, Antonín", "Debussy, Claude"]});</script>`
	cat := &config.CategoryConfig{Loader: config.LoaderScriptPerson, Kinds: []models.EntityKind{models.KindComposer}}
	res, err := Extract(payloadFor("imslp", "composers", "d", body), cat)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, models.KindComposer, res.Records[0].Kind)
	assert.Equal(t, "Dvořák, Antonín", res.Records[0].String("name"))
}

func TestEmbeddedJSONMissingScriptIsStructural(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderScriptPerson, Kinds: []models.EntityKind{models.KindComposer}}
	_, err := Extract(payloadFor("imslp", "composers", "a", "<html><body>nothing here</body></html>"), cat)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStructuralParse, errors.TypeOf(err))
}

const tableBody = `<html><body><div class="view-content"><table><tbody>
<tr class="even">
  <td class="views-field-name"> Bristow, George Frederick, 1825-1898 </td>
  <td class="views-field-count"><a href="/browse/works?id=42">17 works</a></td>
</tr>
<tr class="odd">
  <td class="views-field-name">Karen Clark, fl. 1995</td>
  <td class="views-field-count"></td>
</tr>
</tbody></table></div></body></html>`

func TestHTMLTable(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderTablePerson, Kinds: []models.EntityKind{models.KindComposer}}
	res, err := Extract(payloadFor("clmu", "composers", "0", tableBody), cat)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	first := res.Records[0]
	assert.Equal(t, "Bristow, George Frederick, 1825-1898", first.String("name"))
	assert.Equal(t, 17, first.Int("count"))
	assert.Equal(t, "/browse/works?id=42", first.String("link"))

	// count cell without a link yields zero, not a missing record
	second := res.Records[1]
	assert.Equal(t, "Karen Clark, fl. 1995", second.String("name"))
	assert.Equal(t, 0, second.Int("count"))
}

func TestHTMLTablePerformerKind(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderTablePerformer, Kinds: []models.EntityKind{models.KindPerformer}}
	res, err := Extract(payloadFor("arkiv", "performers", "b", tableBody), cat)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, models.KindPerformer, res.Records[0].Kind)
}

func TestHTMLTableMissingContainerIsStructural(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderTablePerson, Kinds: []models.EntityKind{models.KindComposer}}
	_, err := Extract(payloadFor("clmu", "composers", "0", "<html><body><p>maintenance page</p></body></html>"), cat)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStructuralParse, errors.TypeOf(err))
}

const treeBody = `<html><body><div class="view-content">
<div class="lazr-browse-composition-item" title="Symphony No. 5" genre="Symphony" composed="1808">
  <div class="lazr-browse-composition-title"><span>Symphony No. 5</span></div>
  <div class="lazr-browse-composition-composer"><span>Beethoven, Ludwig van</span></div>
  <ul class="lazr-browse-composition-performances">
    <li><a href="/work/9042">Berlin PO</a>
      <span data-field="real_title">Symphony No. 5 in C Minor, Op. 67</span>
      <ul><li>I. Allegro con brio</li><li>II. Andante con moto</li></ul>
    </li>
    <li><a href="/work/9043">Vienna PO</a></li>
  </ul>
</div>
<div class="lazr-browse-composition-item" title="Orphan Work">
  <div class="lazr-browse-composition-title"><span>Orphan Work</span></div>
  <ul class="lazr-browse-composition-performances"><li></li></ul>
</div>
<a class="lazr-browse-show-all" href="/browse/compositions?page=7">Show all</a>
</div></body></html>`

func TestHTMLTree(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderTreeWork, Kinds: []models.EntityKind{models.KindWork}}
	res, err := Extract(payloadFor("clmu", "compositions", "0", treeBody), cat)
	require.NoError(t, err)

	// the item without a composer is dropped, its sibling still parses
	require.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Skipped)

	rec := res.Records[0]
	assert.Equal(t, "Symphony No. 5 in C Minor, Op. 67", rec.String("title"))
	assert.Equal(t, "Symphony No. 5", rec.String("short_title"))
	assert.Equal(t, "Beethoven, Ludwig van", rec.String("composer"))
	assert.Equal(t, "Symphony", rec.String("genre"))
	assert.Equal(t, "1808", rec.String("composed"))

	perfs, ok := rec.Fields["performances"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, perfs, 2)
	assert.Equal(t, "9042", perfs[0]["work_id"])
	assert.Len(t, perfs[0]["tracks"], 2)
	// a performance with no nested tracks still yields an entry
	assert.Equal(t, "9043", perfs[1]["work_id"])
	assert.Empty(t, perfs[1]["tracks"])

	// the "show all" link becomes a follow-up pagination key
	assert.Equal(t, []string{"7"}, res.FollowUps)
}

const bulkBody = `{"status":{"success":"true"},"composers":[
  {"name":"Beethoven","complete_name":"Ludwig van Beethoven",
   "birth":"1770-12-16","death":"1827-03-26","epoch":"Early Romantic",
   "works":[{"title":"Symphony No. 9","genre":"Orchestral","subtitle":"Choral"},
            {"title":"Für Elise","genre":"Keyboard","subtitle":""}]},
  {"name":"Pärt","complete_name":"Arvo Pärt","birth":"1935-09-11","death":null,
   "epoch":"Post-War","works":[]}
]}`

func TestBulkJSON(t *testing.T) {
	cat := &config.CategoryConfig{
		Loader: config.LoaderBulkPersonWork,
		Kinds:  []models.EntityKind{models.KindPerson, models.KindWork},
	}
	res, err := Extract(payloadFor("openopus", "dump", "*", bulkBody), cat)
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	// each person precedes the works referencing it
	assert.Equal(t, models.KindPerson, res.Records[0].Kind)
	assert.Equal(t, "Ludwig van Beethoven", res.Records[0].String("name"))
	assert.Equal(t, 1770, res.Records[0].Int("birth_year"))
	assert.Equal(t, 1827, res.Records[0].Int("death_year"))

	assert.Equal(t, models.KindWork, res.Records[1].Kind)
	assert.Equal(t, "Symphony No. 9", res.Records[1].String("title"))
	assert.Equal(t, "Ludwig van Beethoven", res.Records[1].String("composer"))
	assert.Equal(t, "Choral", res.Records[1].String("subtitle"))

	assert.Equal(t, models.KindWork, res.Records[2].Kind)
	assert.Equal(t, "Für Elise", res.Records[2].String("title"))

	living := res.Records[3]
	assert.Equal(t, models.KindPerson, living.Kind)
	assert.Equal(t, "Arvo Pärt", living.String("name"))
	assert.Equal(t, 1935, living.Int("birth_year"))
	_, hasDeath := living.Fields["death_year"]
	assert.False(t, hasDeath)
}

func TestBulkJSONNotADumpIsStructural(t *testing.T) {
	cat := &config.CategoryConfig{Loader: config.LoaderBulkPersonWork, Kinds: []models.EntityKind{models.KindPerson, models.KindWork}}
	_, err := Extract(payloadFor("openopus", "dump", "*", `{"unexpected": true}`), cat)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStructuralParse, errors.TypeOf(err))
}
