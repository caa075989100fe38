// Package metrics provides Prometheus metrics for the refdata engine:
// pages fetched, records extracted, entities merged and errors by type.
// Metrics are registered automatically via promauto and recorded from the
// fetcher, the extractors and the pipeline driver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts fetched pages by source, category and outcome
	// ("ok", "http_error", "transport_error").
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "pages_fetched_total",
			Help:      "Total pages fetched by source, category and outcome",
		},
		[]string{"source", "category", "outcome"},
	)

	// FetchLatency tracks fetch round-trip latency per source.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refdata",
			Name:      "fetch_latency_seconds",
			Help:      "Fetch round-trip latency by source",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"source"},
	)

	// RecordsExtracted counts raw records produced by extractors.
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "records_extracted_total",
			Help:      "Raw records extracted by source, category and entity kind",
		},
		[]string{"source", "category", "kind"},
	)

	// EntitiesMerged counts identity-merge outcomes ("created", "updated").
	EntitiesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "entities_merged_total",
			Help:      "Canonical entities merged by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// ErrorsTotal counts errors by structured error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refdata",
			Name:      "errors_total",
			Help:      "Errors by structured error type",
		},
		[]string{"type"},
	)
)

// Timer measures a duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveFetch records the elapsed time on the fetch latency histogram.
func (t *Timer) ObserveFetch(source string) {
	FetchLatency.WithLabelValues(source).Observe(time.Since(t.start).Seconds())
}
