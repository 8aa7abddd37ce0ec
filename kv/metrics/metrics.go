package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheRetrievalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinykcv",
			Subsystem: "cache",
			Name:      "retrievals_total",
			Help:      "Counter of slice reads served through a cache.",
		}, []string{"prefix", "store"})

	cacheMissCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinykcv",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Counter of cached slice reads that went to the backend.",
		}, []string{"prefix", "store"})

	cacheInvalidationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinykcv",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Counter of keys invalidated in a cache.",
		}, []string{"store"})

	persistCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinykcv",
			Subsystem: "transaction",
			Name:      "persist_total",
			Help:      "Counter of chunk persist attempts by result.",
		}, []string{"result"})

	persistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinykcv",
			Subsystem: "transaction",
			Name:      "persist_duration_seconds",
			Help:      "Bucketed histogram of chunk persist time, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})
)

const (
	PersistSuccess = "success"
	PersistRetry   = "retry"
	PersistFailure = "failure"
)

func init() {
	prometheus.MustRegister(cacheRetrievalCounter)
	prometheus.MustRegister(cacheMissCounter)
	prometheus.MustRegister(cacheInvalidationCounter)
	prometheus.MustRegister(persistCounter)
	prometheus.MustRegister(persistDuration)
}

// CacheRetrieval counts a cached read. An empty prefix records nothing.
func CacheRetrieval(prefix, store string) {
	if prefix != "" {
		cacheRetrievalCounter.WithLabelValues(prefix, store).Inc()
	}
}

// CacheMiss counts a cached read that had to load from the backend. An empty prefix records nothing.
func CacheMiss(prefix, store string) {
	if prefix != "" {
		cacheMissCounter.WithLabelValues(prefix, store).Inc()
	}
}

func CacheInvalidation(store string) {
	cacheInvalidationCounter.WithLabelValues(store).Inc()
}

func Persist(result string) {
	persistCounter.WithLabelValues(result).Inc()
}

func ObservePersist(seconds float64) {
	persistDuration.Observe(seconds)
}

// CacheRetrievals exposes the retrieval counter of one store, for inspection.
func CacheRetrievals(prefix, store string) prometheus.Counter {
	return cacheRetrievalCounter.WithLabelValues(prefix, store)
}

// CacheMisses exposes the miss counter of one store, for inspection.
func CacheMisses(prefix, store string) prometheus.Counter {
	return cacheMissCounter.WithLabelValues(prefix, store)
}

func PersistCount(result string) prometheus.Counter {
	return persistCounter.WithLabelValues(result)
}
