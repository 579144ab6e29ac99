package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "jobs_processed_total",
			Help:      "Total jobs processed by kind and result (completed, failed, retried, dlq)",
		},
		[]string{"kind", "result"},
	)

	extractionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extractor",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of backend extraction by kind and engine",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "engine"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome (hit, miss)",
		},
		[]string{"outcome"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "extractor",
			Name:      "cache_entries",
			Help:      "Number of entries in the result cache",
		},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "retries_total",
			Help:      "Total job retries by kind",
		},
		[]string{"kind"},
	)

	summaryChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "summary_chunks_total",
			Help:      "Total streamed summary chunks delivered",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "extractor",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)

	progressEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "progress_events_total",
			Help:      "Progress events emitted by stage",
		},
		[]string{"stage"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(jobsProcessed, extractionLatency, cacheLookups, cacheEntries,
		retriesTotal, summaryChunks, queueDepth, progressEvents)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncProcessed(kind, result string) { jobsProcessed.WithLabelValues(kind, result).Inc() }

func ObserveExtraction(kind, engine string, dur time.Duration) {
	extractionLatency.WithLabelValues(kind, engine).Observe(dur.Seconds())
}

func IncCacheHit()  { cacheLookups.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

func IncRetry(kind string) { retriesTotal.WithLabelValues(kind).Inc() }

func IncSummaryChunk() { summaryChunks.Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func IncProgress(stage string) { progressEvents.WithLabelValues(stage).Inc() }
