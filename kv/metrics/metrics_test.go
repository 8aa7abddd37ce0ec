package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheCounters(t *testing.T) {
	CacheRetrieval("graph", "edgestore")
	CacheRetrieval("graph", "edgestore")
	CacheMiss("graph", "edgestore")
	CacheRetrieval("", "edgestore")

	assert.Equal(t, 2.0, testutil.ToFloat64(cacheRetrievalCounter.WithLabelValues("graph", "edgestore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cacheMissCounter.WithLabelValues("graph", "edgestore")))
	assert.Equal(t, 0.0, testutil.ToFloat64(cacheRetrievalCounter.WithLabelValues("", "edgestore")))
}

func TestPersistCounter(t *testing.T) {
	before := testutil.ToFloat64(persistCounter.WithLabelValues(PersistRetry))
	Persist(PersistRetry)
	assert.Equal(t, before+1, testutil.ToFloat64(persistCounter.WithLabelValues(PersistRetry)))
	ObservePersist(0.01)
}
