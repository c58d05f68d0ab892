package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ingestMetrics holds the Prometheus metrics owned by an Ingestor.
// Each Ingestor registers into its own registerer so tests stay hermetic.
type ingestMetrics struct {
	// fetchesTotal counts record source calls by entity kind and outcome:
	// "ok" or "error".
	fetchesTotal *prometheus.CounterVec

	// memoHitsTotal counts entity resolutions served by the run-local seen set.
	memoHitsTotal *prometheus.CounterVec

	// commitsTotal counts store upserts by entity kind and operation:
	// "created" or "updated".
	commitsTotal *prometheus.CounterVec

	// skipsTotal counts opinions skipped during a run, by failure class.
	skipsTotal *prometheus.CounterVec

	// embeddingsTotal counts embedding cache outcomes by status.
	embeddingsTotal *prometheus.CounterVec

	// fetchDurationSeconds records the latency of record source calls.
	fetchDurationSeconds *prometheus.HistogramVec

	// runDurationSeconds records the wall-clock duration of judge runs by outcome.
	runDurationSeconds *prometheus.HistogramVec

	// activeRuns is the number of judge runs in progress.
	activeRuns prometheus.Gauge
}

func newIngestMetrics(reg prometheus.Registerer) *ingestMetrics {
	factory := promauto.With(reg)

	return &ingestMetrics{
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "fetches_total",
			Help:      "Record source calls, partitioned by entity kind and outcome.",
		}, []string{"kind", "outcome"}),

		memoHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "memo_hits_total",
			Help:      "Entity resolutions served without a network call, partitioned by entity kind.",
		}, []string{"kind"}),

		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "commits_total",
			Help:      "Entity upserts, partitioned by entity kind and operation.",
		}, []string{"kind", "op"}),

		skipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "skips_total",
			Help:      "Opinions skipped during ingestion, partitioned by failure class.",
		}, []string{"class"}),

		embeddingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "embeddings_total",
			Help:      "Embedding cache outcomes, partitioned by status.",
		}, []string{"status"}),

		fetchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of record source calls, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		runDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of judge ingestion runs, partitioned by outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"outcome"}),

		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "courtgraph",
			Subsystem: "ingest",
			Name:      "active_runs",
			Help:      "Number of judge ingestion runs in progress.",
		}),
	}
}
