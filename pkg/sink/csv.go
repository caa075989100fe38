package sink

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register("csv", newCSVSink)
}

var csvHeader = []string{
	"kind", "sort_key", "display_name", "birth_year", "death_year",
	"flourished_year", "title", "composer_key", "catalog_no", "work_count",
	"sources",
}

// csvSink writes a flat projection of each entity. Nested attributes and
// facets do not fit a flat row and are left to the jsonl and postgres sinks.
type csvSink struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func newCSVSink(opts map[string]string, logger *zap.Logger) (Sink, error) {
	path := opts["path"]
	if path == "" {
		path = "entities.csv"
	}
	return &csvSink{path: path, logger: logger.With(zap.String("sink", "csv"))}, nil
}

func (s *csvSink) Open(ctx context.Context) error {
	f, err := os.Create(s.path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSink, "failed to create %s", s.path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
	s.w = csv.NewWriter(f)
	if err := s.w.Write(csvHeader); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write csv header")
	}
	s.logger.Info("csv sink opened", zap.String("path", s.path))
	return nil
}

func (s *csvSink) Accept(_ context.Context, e *models.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New(errors.ErrorTypeSink, "csv sink not open")
	}
	row := []string{
		string(e.Kind),
		e.SortKey,
		e.DisplayName,
		yearStr(e.BirthYear),
		yearStr(e.DeathYear),
		yearStr(e.FlourishedYear),
		e.Title,
		e.ComposerKey,
		e.CatalogNo,
		strconv.Itoa(e.WorkCount),
		strings.Join(e.Sources, ";"),
	}
	if err := s.w.Write(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write csv row")
	}
	return nil
}

func (s *csvSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	err := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return errors.Wrap(flushErr, errors.ErrorTypeSink, "failed to flush csv sink")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close csv sink")
	}
	return nil
}

func yearStr(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}
