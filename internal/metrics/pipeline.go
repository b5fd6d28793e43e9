package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Search pipeline metrics.
var (
	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_total",
			Help:      "Fingerprint cache lookups by outcome",
		},
		[]string{"result"}, // "hit" / "shared_hit" / "miss" / "coalesced"
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Product index KNN query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retries of embedding and retrieval calls",
		},
		[]string{"stage"}, // "embedding" / "retrieval"
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		},
		[]string{"decision"}, // "allowed" / "rejected"
	)

	ImpressionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impressions_stamped_total",
			Help:      "Impressions minted for served candidates",
		},
	)

	ImpressionWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impression_write_failures_total",
			Help:      "Impression writes that failed on the request path",
		},
	)

	ImpressionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impression_retries_total",
			Help:      "Async impression write retries by outcome",
		},
		[]string{"outcome"}, // "succeeded" / "failed" / "dropped"
	)

	StreamCancellationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_cancellations_total",
			Help:      "SSE streams stopped by client disconnect",
		},
	)
)

var pipelineOnce sync.Once

// RegisterPipelineMetrics registers search pipeline metrics. Safe to call more than once.
func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(
			ResultCacheTotal,
			RetrievalDuration,
			RetriesTotal,
			RateLimitDecisionsTotal,
			ImpressionsTotal,
			ImpressionWriteFailuresTotal,
			ImpressionRetriesTotal,
			StreamCancellationsTotal,
		)
	})
}
