package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector tracks build and query activity for one engine instance and
// exposes it through a Prometheus registry. A build-once, query-many
// engine has a handful of signals: phase duration, documents touched,
// query latency.
type Collector struct {
	registry  *prometheus.Registry
	startTime time.Time

	buildPhaseDuration *prometheus.HistogramVec
	docsIngested       prometheus.Counter
	docsPruned         prometheus.Counter
	termsPruned        prometheus.Counter
	docsScored         prometheus.Counter
	scoreFlushes       prometheus.Counter

	queriesTotal  prometheus.Counter
	queryDuration prometheus.Histogram
	topKReturned  prometheus.Histogram
	queryWarnings prometheus.Counter
}

// NewCollector creates a Collector registered on a fresh registry, plus
// the standard Go runtime collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	c := &Collector{
		registry:  reg,
		startTime: time.Now(),

		buildPhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_phase_duration_seconds",
			Help:      "Duration of each index build phase (ingest, prune, score).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		docsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents appended during the ingest phase.",
		}),
		docsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_pruned_total",
			Help:      "Documents removed because every term they held was pruned.",
		}),
		termsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terms_pruned_total",
			Help:      "Distinct terms removed for falling at or below the frequency threshold.",
		}),
		docsScored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_scored_total",
			Help:      "Documents whose TF-IDF vector was computed during the scoring phase.",
		}),
		scoreFlushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_flushes_total",
			Help:      "Buffered bulk_update_scores flushes issued during the scoring phase.",
		}),
		queriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries evaluated against the built index.",
		}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall-clock time to score and rank a single query.",
			Buckets:   prometheus.DefBuckets,
		}),
		topKReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_topk_returned",
			Help:      "Number of results actually returned versus the requested K.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100},
		}),
		queryWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_warnings_total",
			Help:      "Non-fatal query conditions absorbed into diagnostics (e.g. all terms unknown).",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since this collector was created.",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	return c
}

// Registry returns the underlying Prometheus registry for HTTP exposition.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordBuildPhase records the wall-clock duration of one build phase.
func (c *Collector) RecordBuildPhase(phase string, d time.Duration) {
	c.buildPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordIngest records documents appended during the ingest phase.
func (c *Collector) RecordIngest(docs int) {
	c.docsIngested.Add(float64(docs))
}

// RecordPrune records terms removed and documents cascade-deleted during pruning.
func (c *Collector) RecordPrune(termsRemoved, docsRemoved int) {
	c.termsPruned.Add(float64(termsRemoved))
	c.docsPruned.Add(float64(docsRemoved))
}

// RecordScoreFlush records one bulk_update_scores flush covering n documents.
func (c *Collector) RecordScoreFlush(docs int) {
	c.docsScored.Add(float64(docs))
	c.scoreFlushes.Inc()
}

// RecordQuery records one evaluated query: total latency and how many of
// the requested top-K slots were actually filled.
func (c *Collector) RecordQuery(d time.Duration, returned int) {
	c.queriesTotal.Inc()
	c.queryDuration.Observe(d.Seconds())
	c.topKReturned.Observe(float64(returned))
}

// RecordQueryWarning records a non-fatal query condition.
func (c *Collector) RecordQueryWarning() {
	c.queryWarnings.Inc()
}
