package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search session Prometheus metrics.
var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mediasearch",
			Name:      "search_sessions_active",
			Help:      "Number of live search sessions",
		},
	)

	SessionEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Name:      "search_session_evictions_total",
			Help:      "Search sessions closed, by reason",
		},
		[]string{"reason"}, // "removed" / "evicted" / "shutdown"
	)

	SearchRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Name:      "search_round_duration_seconds",
			Help:      "Duration of one fan-out round across live collections",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	CollectionSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Name:      "search_collection_skips_total",
			Help:      "Collections left out of a search, by reason",
		},
		[]string{"reason"}, // "unknown" / "modality" / "error" / "upstream"
	)

	RetrieverRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Name:      "retriever_retries_total",
			Help:      "Retried vector store calls",
		},
		[]string{"collection"},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionEvictionsTotal)
	prometheus.MustRegister(SearchRoundDuration)
	prometheus.MustRegister(CollectionSkipsTotal)
	prometheus.MustRegister(RetrieverRetriesTotal)
	searchMetricsRegistered = true
}
