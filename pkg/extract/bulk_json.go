package extract

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register(config.LoaderBulkPersonWork, &bulkJSONExtractor{})
}

// bulkDump is the wire shape of the bulk composer dump: one document listing
// every composer with their works.
type bulkDump struct {
	Composers []struct {
		Name         string `json:"name"`
		CompleteName string `json:"complete_name"`
		Birth        string `json:"birth"`
		Death        string `json:"death"`
		Epoch        string `json:"epoch"`
		Works        []struct {
			Title    string `json:"title"`
			Subtitle string `json:"subtitle"`
			Genre    string `json:"genre"`
		} `json:"works"`
	} `json:"composers"`
}

// bulkJSONExtractor handles the single-shot bulk dump source. One payload
// yields records of two kinds; the loader's declared kind order (person
// before work) is honored so that each composer record precedes the works
// referencing it.
type bulkJSONExtractor struct{}

func (e *bulkJSONExtractor) Extract(payload *fetch.Payload, cat *config.CategoryConfig) (*Result, error) {
	var dump bulkDump
	if err := json.Unmarshal(payload.Body, &dump); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructuralParse, "payload is not a composer dump")
	}
	if dump.Composers == nil {
		return nil, errors.New(errors.ErrorTypeStructuralParse, "composer dump has no composers list")
	}

	personKind, workKind := bulkKinds(cat)
	prov := provenance(payload)
	res := &Result{}

	for _, c := range dump.Composers {
		name := strings.TrimSpace(c.CompleteName)
		if name == "" {
			name = strings.TrimSpace(c.Name)
		}
		if name == "" {
			res.Skipped++
			continue
		}

		person := models.NewRawRecord(personKind, prov)
		person.Fields["name"] = name
		if y := yearOf(c.Birth); y != 0 {
			person.Fields["birth_year"] = y
		}
		if y := yearOf(c.Death); y != 0 {
			person.Fields["death_year"] = y
		}
		if c.Epoch != "" {
			person.Fields["epoch"] = c.Epoch
		}
		res.Records = append(res.Records, person)

		for _, w := range c.Works {
			title := strings.TrimSpace(w.Title)
			if title == "" {
				res.Skipped++
				continue
			}
			work := models.NewRawRecord(workKind, prov)
			work.Fields["title"] = title
			work.Fields["composer"] = name
			if w.Subtitle != "" {
				work.Fields["subtitle"] = w.Subtitle
			}
			if w.Genre != "" {
				work.Fields["genre"] = w.Genre
			}
			res.Records = append(res.Records, work)
		}
	}
	return res, nil
}

// bulkKinds resolves the person and work kinds from the category's declared
// kind order, falling back to the defaults when unconfigured.
func bulkKinds(cat *config.CategoryConfig) (person, work models.EntityKind) {
	person, work = models.KindPerson, models.KindWork
	for _, k := range cat.Kinds {
		if k.IdentitySpace() == models.KindPerson {
			person = k
		} else if k == models.KindWork {
			work = k
		}
	}
	return person, work
}

// yearOf extracts the year from an ISO date string like "1770-12-16".
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
