package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register(config.LoaderTreeWork, &htmlTreeExtractor{})
}

// workIDRe captures the numeric work id carried in each performance's
// outbound link.
var workIDRe = regexp.MustCompile(`/work/(\d+)\b`)

// htmlTreeExtractor parses composition browse pages: a three-level nested
// structure of work item, performance entry and track entry. A performance
// with no nested tracks still yields the work-level record with an empty
// track list. A "show all" sibling link means more performances exist than
// were rendered; its embedded page identifier is surfaced as a follow-up
// pagination key for the driver.
type htmlTreeExtractor struct{}

func (e *htmlTreeExtractor) Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructuralParse, "payload is not parseable HTML")
	}

	content := doc.Find("div.view-content").First()
	if content.Length() == 0 {
		return nil, errors.New(errors.ErrorTypeStructuralParse, "no view-content container in payload")
	}

	kind := kindOf(cat, models.KindWork)
	prov := provenance(payload)
	res := &Result{}

	content.Find("div.lazr-browse-composition-item").Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find("div.lazr-browse-composition-title span").First().Text())
		composerSel := item.Find("div.lazr-browse-composition-composer span").First()
		if composerSel.Length() == 0 {
			// items without a composer cannot be keyed; drop the entry
			res.Skipped++
			return
		}
		composer := strings.TrimSpace(composerSel.Text())
		if title == "" || composer == "" {
			res.Skipped++
			return
		}

		rec := models.NewRawRecord(kind, prov)
		rec.Fields["title"] = title
		rec.Fields["composer"] = composer
		if v, ok := item.Attr("genre"); ok {
			rec.Fields["genre"] = v
		}
		if v, ok := item.Attr("composed"); ok {
			rec.Fields["composed"] = v
		}

		perfs := item.Find("ul.lazr-browse-composition-performances").First()
		if real := perfs.Find("span[data-field=real_title]").First(); real.Length() > 0 {
			if t := strings.TrimSpace(real.Text()); t != "" {
				rec.Fields["short_title"] = rec.Fields["title"]
				rec.Fields["title"] = t
			}
		}

		var performances []map[string]interface{}
		perfs.ChildrenFiltered("li").Each(func(_ int, perf *goquery.Selection) {
			entry := map[string]interface{}{}
			if href, ok := perf.Find("a").First().Attr("href"); ok {
				if m := workIDRe.FindStringSubmatch(href); m != nil {
					entry["work_id"] = m[1]
				}
			}
			var tracks []string
			perf.Find("ul li").Each(func(_ int, track *goquery.Selection) {
				if t := strings.TrimSpace(track.Text()); t != "" {
					tracks = append(tracks, t)
				}
			})
			// empty track list is a valid performance, keep the entry
			entry["tracks"] = tracks
			performances = append(performances, entry)
		})
		rec.Fields["performances"] = performances

		res.Records = append(res.Records, rec)
	})

	// "show all" links escape the rendered performance cap; hand their page
	// identifiers back to the iterator instead of fetching recursively here.
	content.Find("a.lazr-browse-show-all").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		if key := followUpKey(href); key != "" {
			res.FollowUps = append(res.FollowUps, key)
		}
	})

	return res, nil
}

// followUpKey extracts the page identifier embedded in a "show all" link.
func followUpKey(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("page")
}
