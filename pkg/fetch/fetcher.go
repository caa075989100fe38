// Package fetch materializes and performs one page request for a
// (source, category, key) triple: it substitutes the <CATEGORY>, <KEY> and
// <ROLE> placeholders into the source's URL and parameter templates,
// attaches the source's fixed headers, paces requests per source and retries
// transient failures with exponential backoff.
package fetch

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/clients"
	"github.com/opusatlas/refdata/pkg/config"
	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/keyiter"
	"github.com/opusatlas/refdata/pkg/metrics"
)

// maxBodyBytes caps a single payload read. The largest legitimate payload is
// the Open Opus bulk dump at a few MB.
const maxBodyBytes = 32 << 20

// Payload is one fetched page.
type Payload struct {
	Source   string
	Category string
	Key      keyiter.Key
	URL      string
	Status   int
	Body     []byte
}

// Fetcher performs rate-limited, retrying page fetches. Fetches to the same
// source are spaced at least the source's fetch interval apart; fetches to
// different sources are not mutually constrained.
type Fetcher struct {
	client *clients.HTTPClient
	retry  *clients.RetryPolicy
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*clients.IntervalLimiter
}

// New creates a fetcher. A nil retry policy selects the default.
func New(client *clients.HTTPClient, retry *clients.RetryPolicy, logger *zap.Logger) *Fetcher {
	if retry == nil {
		retry = clients.DefaultRetryPolicy()
	}
	return &Fetcher{
		client:   client,
		retry:    retry,
		logger:   logger.With(zap.String("component", "fetcher")),
		limiters: make(map[string]*clients.IntervalLimiter),
	}
}

// limiter returns the per-source interval limiter, creating it on first use.
func (f *Fetcher) limiter(src *config.SourceConfig) *clients.IntervalLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[src.ID]
	if !ok {
		l = clients.NewIntervalLimiter(src.FetchInterval)
		f.limiters[src.ID] = l
	}
	return l
}

// BuildURL materializes the request URL for a (source, category, key),
// substituting placeholders into the URL template and parameter values and
// encoding the merged parameters as the query string.
func BuildURL(src *config.SourceConfig, category string, key keyiter.Key) (string, error) {
	cat, ok := src.Category(category)
	if !ok {
		return "", errors.Newf(errors.ErrorTypeConfig, "category %q not known for source %s", category, src.ID)
	}

	repl := func(s string) (string, error) {
		s = strings.ReplaceAll(s, config.TokenCategory, category)
		if strings.Contains(s, config.TokenKey) {
			if key == keyiter.Sentinel {
				return "", errors.Newf(errors.ErrorTypeConfig, "source %s: %s placeholder on single-shot fetch", src.ID, config.TokenKey)
			}
			s = strings.ReplaceAll(s, config.TokenKey, key)
		}
		if strings.Contains(s, config.TokenRole) {
			if cat.Role == "" {
				return "", errors.Newf(errors.ErrorTypeConfig, "source %s category %s: %s placeholder without a role", src.ID, category, config.TokenRole)
			}
			s = strings.ReplaceAll(s, config.TokenRole, cat.Role)
		}
		return s, nil
	}

	base, err := repl(src.FetchURL)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	merged := make(map[string]string, len(src.FetchParams)+len(cat.AddlParams))
	for k, v := range src.FetchParams {
		merged[k] = v
	}
	for k, v := range cat.AddlParams {
		merged[k] = v
	}
	for k, v := range merged {
		val, err := repl(v)
		if err != nil {
			return "", err
		}
		params.Set(k, val)
	}

	if len(params) == 0 {
		return base, nil
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode(), nil
}

// Fetch retrieves one page. Transient failures (timeout, 5xx, connection
// reset) are retried with exponential backoff up to the policy's attempt
// count; non-retryable statuses (e.g. 404) are returned immediately as a
// transport error carrying the key for the caller to log and skip.
func (f *Fetcher) Fetch(ctx context.Context, src *config.SourceConfig, category string, key keyiter.Key) (*Payload, error) {
	reqURL, err := BuildURL(src, category, key)
	if err != nil {
		return nil, err
	}

	log := f.logger.With(
		zap.String("source", src.ID),
		zap.String("category", category),
		zap.String("key", key),
	)

	var payload *Payload
	attempt := 0
	err = f.retry.ExecuteWithCondition(ctx, func() error {
		attempt++
		if err := f.limiter(src).Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransport, "rate limit wait cancelled").
				WithDetail("retryable", false)
		}

		timer := metrics.NewTimer()
		resp, err := f.client.Get(ctx, reqURL, src.HTTPHeaders)
		timer.ObserveFetch(src.ID)
		if err != nil {
			metrics.PagesFetched.WithLabelValues(src.ID, category, "transport_error").Inc()
			return classifyNetError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			metrics.PagesFetched.WithLabelValues(src.ID, category, "http_error").Inc()
			e := errors.Newf(errors.ErrorTypeTransport, "GET %s returned status %d", reqURL, resp.StatusCode).
				WithDetail("status", resp.StatusCode).
				WithDetail("key", key)
			if !retryableStatus(resp.StatusCode) {
				e = e.WithDetail("retryable", false)
			}
			return e
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			metrics.PagesFetched.WithLabelValues(src.ID, category, "transport_error").Inc()
			return errors.Wrap(err, errors.ErrorTypeTransport, "failed to read response body")
		}

		metrics.PagesFetched.WithLabelValues(src.ID, category, "ok").Inc()
		payload = &Payload{
			Source:   src.ID,
			Category: category,
			Key:      key,
			URL:      reqURL,
			Status:   resp.StatusCode,
			Body:     body,
		}
		return nil
	}, errors.IsRetryable)

	if err != nil {
		log.Warn("fetch failed", zap.Int("attempts", attempt), zap.Error(err))
		if typed, ok := err.(*errors.Error); ok {
			return nil, typed
		}
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "fetch failed").WithDetail("key", key)
	}

	log.Debug("fetched page", zap.Int("bytes", len(payload.Body)), zap.Int("status", payload.Status))
	return payload, nil
}

// DryRun materializes the request and logs it without fetching.
func (f *Fetcher) DryRun(src *config.SourceConfig, category string, key keyiter.Key) (string, error) {
	reqURL, err := BuildURL(src, category, key)
	if err != nil {
		return "", err
	}
	f.logger.Info("dryrun",
		zap.String("source", src.ID),
		zap.String("category", category),
		zap.String("key", key),
		zap.String("url", reqURL),
		zap.Any("headers", src.HTTPHeaders),
	)
	return reqURL, nil
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status <= 599)
}

// classifyNetError maps a transport-level error onto the structured
// taxonomy: timeouts keep their own type, everything else is a retryable
// transport error.
func classifyNetError(err error) *errors.Error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "fetch timed out")
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "fetch timed out")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeTransport, "fetch cancelled").WithDetail("retryable", false)
	}
	return errors.Wrap(err, errors.ErrorTypeTransport, "request failed")
}

// PacingStats returns the rate-limiter statistics per source, logged at the
// end of a run.
func (f *Fetcher) PacingStats() map[string]clients.RateLimiterStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]clients.RateLimiterStats, len(f.limiters))
	for id, l := range f.limiters {
		out[id] = l.GetStats()
	}
	return out
}
