package sink

import (
	"bufio"
	"context"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register("jsonl", newJSONLSink)
}

// jsonlSink appends one JSON object per entity to a file. Re-accepted
// entities append a fresh line; the last line per identity is current, which
// keeps writes append-only and crash-safe.
type jsonlSink struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func newJSONLSink(opts map[string]string, logger *zap.Logger) (Sink, error) {
	path := opts["path"]
	if path == "" {
		path = "entities.jsonl"
	}
	return &jsonlSink{path: path, logger: logger.With(zap.String("sink", "jsonl"))}, nil
}

func (s *jsonlSink) Open(ctx context.Context) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSink, "failed to open %s", s.path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
	s.w = bufio.NewWriter(f)
	s.enc = json.NewEncoder(s.w)
	s.logger.Info("jsonl sink opened", zap.String("path", s.path))
	return nil
}

func (s *jsonlSink) Accept(_ context.Context, e *models.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return errors.New(errors.ErrorTypeSink, "jsonl sink not open")
	}
	if err := s.enc.Encode(e); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to encode entity")
	}
	return nil
}

func (s *jsonlSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush jsonl sink")
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close jsonl sink")
	}
	return nil
}
