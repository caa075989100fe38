package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register(config.LoaderScriptPerson, &embeddedJSONExtractor{})
	Register(config.LoaderScriptWork, &embeddedJSONExtractor{works: true})
}

var (
	// scriptBlockRe captures the body of each inline script block.
	scriptBlockRe = regexp.MustCompile(`(?s)<script[^>]*>(.*?)</script>`)
	// catInitRe captures the object-literal argument of the category index
	// initializer call embedded in one of the script blocks.
	catInitRe = regexp.MustCompile(`(?s)\bcatInit\s*\(\s*(\{.*\})\s*\)`)
	// titleComposerRe splits "Title (Composer)" at the final parenthesized
	// group.
	titleComposerRe = regexp.MustCompile(`^(.*\S)\s*\(([^()]+)\)$`)
)

// embeddedJSONExtractor handles sources whose HTML pages carry the category
// listing as a JSON object inside an inline script block. The object maps
// first-letter bucket to an ordered list of raw string entries. For the work
// loader each entry additionally carries facet tokens after the title.
type embeddedJSONExtractor struct {
	works bool
}

func (e *embeddedJSONExtractor) Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error) {
	obj, err := findEmbeddedObject(payload.Body)
	if err != nil {
		return nil, err
	}

	var buckets map[string][]string
	if err := json.Unmarshal(obj, &buckets); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructuralParse, "embedded object is not a bucket map").
			WithDetail("source", payload.Source).
			WithDetail("key", payload.Key)
	}

	fallback := models.KindComposer
	if e.works {
		fallback = models.KindWork
	}
	kind := kindOf(cat, fallback)
	prov := provenance(payload)
	res := &Result{}

	// Only the bucket matching the requested key carries this page's
	// entries, but servers have been seen returning every bucket; take all
	// of them in bucket order so the output is deterministic either way.
	for _, bucket := range sortedBuckets(buckets) {
		for _, entry := range buckets[bucket] {
			if !e.works {
				rec := models.NewRawRecord(kind, prov)
				rec.Fields["name"] = entry
				res.Records = append(res.Records, rec)
				continue
			}
			rec, err := decodeWorkEntry(entry, kind, prov)
			if err != nil {
				res.Skipped++
				continue
			}
			res.Records = append(res.Records, rec)
		}
	}
	return res, nil
}

// findEmbeddedObject locates the inline script block containing the category
// initializer call and returns its object-literal argument.
func findEmbeddedObject(body []byte) ([]byte, error) {
	for _, m := range scriptBlockRe.FindAllSubmatch(body, -1) {
		if call := catInitRe.FindSubmatch(m[1]); call != nil {
			return call[1], nil
		}
	}
	return nil, errors.New(errors.ErrorTypeStructuralParse, "no category index script block found in payload")
}

// decodeWorkEntry decodes one composition entry: "<Title> (<Composer>)"
// followed by zero or more facet tokens separated by '|'. Each token's first
// character is an internal discriminator; the remainder is "<Label>\<Count>".
func decodeWorkEntry(entry string, kind models.EntityKind, prov models.Provenance) (*models.RawRecord, error) {
	tokens := strings.Split(entry, "|")
	m := titleComposerRe.FindStringSubmatch(tokens[0])
	if m == nil {
		return nil, errors.Newf(errors.ErrorTypeRecord, "entry %q has no composer group", tokens[0])
	}

	facets := make(map[string]int, len(tokens)-1)
	for _, tok := range tokens[1:] {
		label, count, err := decodeFacetToken(tok)
		if err != nil {
			return nil, err
		}
		facets[label] = count
	}

	rec := models.NewRawRecord(kind, prov)
	rec.Fields["title"] = strings.TrimSpace(m[1])
	rec.Fields["composer"] = strings.TrimSpace(m[2])
	rec.Fields["facets"] = facets
	return rec, nil
}

// decodeFacetToken decodes "<D><Label>\<Count>" where D is a one-character
// discriminator and a single backslash separates the label from the count.
func decodeFacetToken(tok string) (string, int, error) {
	if len(tok) < 2 {
		return "", 0, errors.Newf(errors.ErrorTypeRecord, "facet token %q too short", tok)
	}
	body := tok[1:]
	sep := strings.LastIndexByte(body, '\\')
	if sep < 0 {
		return "", 0, errors.Newf(errors.ErrorTypeRecord, "facet token %q missing separator", tok)
	}
	label := body[:sep]
	count, err := strconv.Atoi(body[sep+1:])
	if err != nil {
		return "", 0, errors.Wrapf(err, errors.ErrorTypeRecord, "facet token %q has non-numeric count", tok)
	}
	if label == "" {
		return "", 0, errors.Newf(errors.ErrorTypeRecord, "facet token %q has empty label", tok)
	}
	return label, count, nil
}

func sortedBuckets(buckets map[string][]string) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
