// Package pipeline drives one ingestion run. Each selected (source, category)
// pair is an independent pipeline: the key iterator yields pagination keys,
// each key's payload is fetched, extracted, normalized, merged and emitted to
// the sink before the next key is requested. Pipelines for different sources
// run in parallel and contend on nothing but the shared identity index;
// within one source, categories run sequentially in their declared order so
// that composer listings land before the compositions referencing them.
package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/extract"
	"github.com/opusatlas/refdata/pkg/fetch"
	"github.com/opusatlas/refdata/pkg/keyiter"
	"github.com/opusatlas/refdata/pkg/merge"
	"github.com/opusatlas/refdata/pkg/metrics"
	"github.com/opusatlas/refdata/pkg/normalize"
	"github.com/opusatlas/refdata/pkg/sink"
)

// failureCeiling is the number of consecutive failed keys after which a
// category aborts the whole run. One broken page degrades to skip-and-
// continue; a page layout change that breaks every key should not burn
// through an entire source politely.
const failureCeiling = 5

// Options select what a run ingests and where it lands.
type Options struct {
	// Sources restricts the run to the given source ids; empty means all.
	Sources []string
	// Categories restricts the run to the given category names; empty means
	// every category of each selected source.
	Categories []string
	// Keys restricts iteration to an explicit key selection (single key,
	// comma list, or range). Applies to every selected category.
	Keys string
	// Resume maps "source/category" to the last successfully completed key
	// of a previous run; iteration starts after it.
	Resume map[string]keyiter.Key
	// PreferredSources ranks sources for merge-time field tie-breaks.
	PreferredSources []string
	// DryRun materializes and logs each request without fetching.
	DryRun bool
}

// CategorySummary is the per-(source,category) outcome of a run.
type CategorySummary struct {
	Source          string      `json:"source"`
	Category        string      `json:"category"`
	Pages           int         `json:"pages"`
	Records         int         `json:"records"`
	Created         int         `json:"created"`
	Updated         int         `json:"updated"`
	Skipped         int         `json:"skipped"`
	TransportErrors int         `json:"transport_errors"`
	ParseErrors     int         `json:"parse_errors"`
	SinkErrors      int         `json:"sink_errors"`
	Conflicts       int         `json:"conflicts"`
	LastKey         keyiter.Key `json:"last_key,omitempty"`
}

// Summary is the run-wide outcome: one entry per (source, category), plus
// the final entity count of the identity index.
type Summary struct {
	mu         sync.Mutex
	Categories map[string]*CategorySummary `json:"categories"`
	Entities   int                         `json:"entities"`
}

func newSummary() *Summary {
	return &Summary{Categories: make(map[string]*CategorySummary)}
}

func (s *Summary) category(source, category string) *CategorySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := source + "/" + category
	cs, ok := s.Categories[k]
	if !ok {
		cs = &CategorySummary{Source: source, Category: category}
		s.Categories[k] = cs
	}
	return cs
}

// Lines renders the summary one line per category, sorted, for end-of-run
// output.
func (s *Summary) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.Categories))
	for k := range s.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		cs := s.Categories[k]
		out = append(out, fmt.Sprintf(
			"%-24s pages=%d records=%d created=%d updated=%d skipped=%d transport_err=%d parse_err=%d sink_err=%d conflicts=%d",
			k, cs.Pages, cs.Records, cs.Created, cs.Updated, cs.Skipped,
			cs.TransportErrors, cs.ParseErrors, cs.SinkErrors, cs.Conflicts))
	}
	out = append(out, fmt.Sprintf("total entities: %d", s.Entities))
	return out
}

// Runner wires the pipeline stages together for one or more runs.
type Runner struct {
	registry *config.Registry
	fetcher  *fetch.Fetcher
	sink     sink.Sink
	logger   *zap.Logger
}

// New creates a runner over the given source registry, fetcher and sink.
func New(registry *config.Registry, fetcher *fetch.Fetcher, s sink.Sink, log *zap.Logger) *Runner {
	return &Runner{
		registry: registry,
		fetcher:  fetcher,
		sink:     s,
		logger:   log.With(zap.String("component", "pipeline")),
	}
}

// Run executes one ingestion run and returns its summary. Cancelling ctx
// stops new fetches from being scheduled; the in-flight fetch completes and
// its records flow through to the sink, so no partially ingested page leaves
// the index inconsistent.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	sources, err := r.selectSources(opts)
	if err != nil {
		return nil, err
	}
	if err := r.registry.Validate(extract.Known); err != nil {
		return nil, err
	}

	merger := merge.New(opts.PreferredSources)
	summary := newSummary()

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			for _, category := range src.CategoryNames() {
				if !categorySelected(category, opts.Categories) {
					continue
				}
				if err := r.runCategory(gctx, src, category, opts, merger, summary); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	summary.Entities = merger.Len()
	if err != nil {
		return summary, err
	}

	for id, pacing := range r.fetcher.PacingStats() {
		r.logger.Info("source pacing",
			zap.String("source", id),
			zap.Int64("requests", pacing.AllowedRequests),
			zap.Duration("avg_wait", pacing.AverageWaitTime),
		)
	}
	r.logger.Info("run complete",
		zap.Int("entities", merger.Len()),
		zap.Int("categories", len(summary.Categories)),
	)
	return summary, nil
}

// runCategory walks one (source, category) pipeline to completion. Key
// retrieval is strictly sequential because the iterator's termination
// decisions depend on the immediately preceding page.
func (r *Runner) runCategory(ctx context.Context, src *config.SourceConfig, category string, opts Options, merger *merge.Merger, summary *Summary) error {
	cat, ok := src.Category(category)
	if !ok {
		return errors.Newf(errors.ErrorTypeConfig, "category %q not known for source %s", category, src.ID)
	}

	iter, err := keyiter.New(src.DfltKeys, keyiter.Options{
		PageSize: cat.PageSize,
		Resume:   opts.Resume[src.ID+"/"+category],
		Keys:     opts.Keys,
	})
	if err != nil {
		return err
	}

	log := r.logger.With(zap.String("source", src.ID), zap.String("category", category))
	cs := summary.category(src.ID, category)
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			log.Info("run cancelled, stopping before next fetch")
			return nil
		default:
		}

		key, ok := iter.Next()
		if !ok {
			break
		}

		if opts.DryRun {
			if _, err := r.fetcher.DryRun(src, category, key); err != nil {
				return err
			}
			iter.Observe(keyiter.PageResult{})
			continue
		}

		result, pageRes, err := r.processKey(ctx, src, &cat, category, key, merger, cs, log)
		iter.Observe(pageRes)

		if err != nil {
			consecutiveFailures++
			if consecutiveFailures >= failureCeiling {
				return errors.Newf(errors.ErrorTypeFailureCeiling,
					"source %s category %s: %d consecutive failed keys, aborting run",
					src.ID, category, consecutiveFailures).
					WithDetail("last_key", key)
			}
			continue
		}
		consecutiveFailures = 0
		cs.LastKey = key

		for _, followUp := range result.FollowUps {
			iter.Push(followUp)
		}
	}
	log.Info("category complete",
		zap.Int("pages", cs.Pages),
		zap.Int("records", cs.Records),
		zap.Int("skipped", cs.Skipped),
	)
	return nil
}

// processKey runs one key through fetch, extract, normalize, merge and sink.
// The returned error marks the whole key as failed; record-level problems are
// absorbed into the summary instead.
func (r *Runner) processKey(ctx context.Context, src *config.SourceConfig, cat *config.CategoryConfig, category string, key keyiter.Key, merger *merge.Merger, cs *CategorySummary, log *zap.Logger) (*extract.Result, keyiter.PageResult, error) {
	// a page whose fetch started runs through to the sink even if the run is
	// cancelled mid-flight; the loop gate above stops the next key instead
	pageCtx := context.WithoutCancel(ctx)
	payload, err := r.fetcher.Fetch(pageCtx, src, category, key)
	if err != nil {
		cs.TransportErrors++
		metrics.ErrorsTotal.WithLabelValues(string(errors.TypeOf(err))).Inc()
		log.Warn("key failed, skipping", zap.String("key", key), zap.Error(err))
		return nil, keyiter.PageResult{Failed: true}, err
	}
	cs.Pages++

	result, err := extract.Extract(payload, cat)
	if err != nil {
		cs.ParseErrors++
		log.Warn("payload did not match expected shape, skipping key",
			zap.String("key", key), zap.Error(err))
		return nil, keyiter.PageResult{Failed: true}, err
	}
	cs.Records += len(result.Records)
	cs.Skipped += result.Skipped

	for _, rec := range result.Records {
		entity := normalize.Normalize(rec)
		if entity.SortKey == "" {
			cs.Skipped++
			continue
		}
		before := merger.ConflictCount()
		merged, outcome, err := merger.Merge(entity)
		if err != nil {
			cs.Skipped++
			continue
		}
		switch outcome {
		case merge.OutcomeCreated:
			cs.Created++
		case merge.OutcomeUpdated:
			cs.Updated++
		}
		cs.Conflicts += merger.ConflictCount() - before

		// sink errors never roll back the in-memory merge
		if err := r.sink.Accept(pageCtx, merged); err != nil {
			cs.SinkErrors++
			metrics.ErrorsTotal.WithLabelValues(string(errors.ErrorTypeSink)).Inc()
			log.Warn("sink rejected entity",
				zap.String("sort_key", merged.SortKey), zap.Error(err))
		}
	}

	return result, keyiter.PageResult{
		Records: len(result.Records),
		Digest:  sha256.Sum256(payload.Body),
	}, nil
}

func (r *Runner) selectSources(opts Options) ([]*config.SourceConfig, error) {
	if len(opts.Sources) == 0 {
		return r.registry.Sources(), nil
	}
	out := make([]*config.SourceConfig, 0, len(opts.Sources))
	for _, id := range opts.Sources {
		src, ok := r.registry.Source(id)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "source %q not known (have: %s)",
				id, strings.Join(r.registry.IDs(), ", "))
		}
		out = append(out, src)
	}
	return out, nil
}

func categorySelected(category string, selected []string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, c := range selected {
		if c == category {
			return true
		}
	}
	return false
}
