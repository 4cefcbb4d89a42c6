// Package metrics defines the Prometheus metric collectors used across the
// crawl-index-route pipeline and the side server that exposes them for scraping.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	FeedEntriesTotal    *prometheus.CounterVec
	BodyFetchesTotal    *prometheus.CounterVec
	ArticlesCreated     prometheus.Counter
	DocsIndexedTotal    *prometheus.CounterVec
	IndexFailuresTotal  *prometheus.CounterVec
	DeliveriesTotal     prometheus.Counter
	ScoringDuration     *prometheus.HistogramVec
	ScoreCacheTotal     *prometheus.CounterVec
	QueriesCreatedTotal prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the process-wide default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_index_route_cycles_total",
				Help: "Crawl-index-route cycles by outcome (ok, partial, rejected, error).",
			},
			[]string{"status"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_index_route_cycle_duration_seconds",
				Help:    "Wall time of a full crawl-index-route cycle.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		FeedEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_entries_total",
				Help: "Feed entries seen by result (created, duplicate, incomplete, error).",
			},
			[]string{"result"},
		),
		BodyFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "body_fetches_total",
				Help: "Text-extraction requests by result (ok, bad_status, blank, error).",
			},
			[]string{"result"},
		),
		ArticlesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "articles_created_total",
				Help: "Articles created from fetched feed entries.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Documents merged into the inverted index by kind.",
			},
			[]string{"kind"},
		),
		IndexFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_failures_total",
				Help: "Documents left unindexed after a storage error, by kind.",
			},
			[]string{"kind"},
		),
		DeliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deliveries_total",
				Help: "New article-to-user deliveries.",
			},
		),
		ScoringDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoring_duration_seconds",
				Help:    "Latency of scoring calls by mode (one, all).",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"mode"},
		),
		ScoreCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "score_cache_requests_total",
				Help: "Ranked score lookups by cache result (hit, miss).",
			},
			[]string{"result"},
		),
		QueriesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "queries_created_total",
				Help: "Standing queries created.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CyclesTotal,
		m.CycleDuration,
		m.FeedEntriesTotal,
		m.BodyFetchesTotal,
		m.ArticlesCreated,
		m.DocsIndexedTotal,
		m.IndexFailuresTotal,
		m.DeliveriesTotal,
		m.ScoringDuration,
		m.ScoreCacheTotal,
		m.QueriesCreatedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered with a throwaway registry, for tests
// and tools that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
