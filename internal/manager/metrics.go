package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "loads_total",
		Help:      "Total successful session loads",
	})

	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "load_failures_total",
		Help:      "Total failed session loads",
	})

	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "evictions_total",
		Help:      "Total sessions evicted to make room for another model",
	})

	downloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "downloads_total",
		Help:      "Total artifact downloads completed",
	})

	generatedTokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "generated_tokens_total",
		Help:      "Total tokens streamed to callers",
	})

	generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "inferd",
		Subsystem: "manager",
		Name:      "generation_duration_seconds",
		Help:      "Wall time of generation streams",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(
		loadsTotal,
		loadFailuresTotal,
		evictionsTotal,
		downloadsTotal,
		generatedTokensTotal,
		generationDuration,
	)
}
