package extract

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register(config.LoaderTablePerson, &htmlTableExtractor{})
	Register(config.LoaderTablePerformer, &htmlTableExtractor{})
}

// htmlTableExtractor parses a paginated name/count table. Body rows alternate
// even/odd CSS classes, which are cosmetic and ignored. Each row has a name
// cell and a count cell whose link text is the related-item count; a count
// cell with no link means zero, not a missing record.
type htmlTableExtractor struct{}

func (e *htmlTableExtractor) Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructuralParse, "payload is not parseable HTML")
	}

	content := doc.Find("div.view-content").First()
	if content.Length() == 0 {
		return nil, errors.New(errors.ErrorTypeStructuralParse, "no view-content container in payload")
	}

	fallback := models.KindComposer
	if cat.Loader == config.LoaderTablePerformer {
		fallback = models.KindPerformer
	}
	kind := kindOf(cat, fallback)
	prov := provenance(payload)
	res := &Result{}

	content.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		name := strings.TrimSpace(row.Find("td.views-field-name").First().Text())
		if name == "" {
			res.Skipped++
			return
		}

		count := 0
		if link := row.Find("td.views-field-count a").First(); link.Length() > 0 {
			count = parseCount(link.Text())
		}

		rec := models.NewRawRecord(kind, prov)
		rec.Fields["name"] = name
		rec.Fields["count"] = count
		if href, ok := row.Find("td.views-field-count a").First().Attr("href"); ok {
			rec.Fields["link"] = href
		}
		res.Records = append(res.Records, rec)
	})

	return res, nil
}

// parseCount parses a human-formatted count like "1,204 works"; anything
// unparseable counts as zero.
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		} else if digits.Len() > 0 && r != ',' {
			break
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}
