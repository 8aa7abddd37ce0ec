package cache

import (
	"testing"
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	. "github.com/pingcap-incubator/tinykcv/kv/kcv/kcvtest"
	"github.com/pingcap-incubator/tinykcv/kv/metrics"
	"github.com/pingcap-incubator/tinykcv/kv/storage/inmemory"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExpirationConfig() ExpirationConfig {
	return ExpirationConfig{Expiration: time.Minute, GracePeriod: 0, MaxBytes: 1 << 20}
}

type cacheFixture struct {
	backend *inmemory.Store
	counted *countingStore
	cache   *ExpirationKCVSCache
	txh     *kcv.BaseTransaction
}

func newCacheFixture(t *testing.T, conf ExpirationConfig) *cacheFixture {
	backend := inmemory.NewStore("edgestore")
	counted := &countingStore{Store: backend}
	c, err := NewExpirationKCVSCache(counted, conf)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &cacheFixture{
		backend: backend,
		counted: counted,
		cache:   c,
		txh:     kcv.NewBaseTransaction(kcv.DefaultTxConfig()),
	}
}

func (f *cacheFixture) write(t *testing.T, key string, entries ...kcv.Entry) {
	require.NoError(t, f.backend.Mutate(Val(key), entries, nil, f.txh))
}

func (f *cacheFixture) read(t *testing.T, key string) kcv.EntryList {
	return readSlice(t, f.cache, key, Slice(0, 10), f.txh)
}

func TestExpirationConfigValidate(t *testing.T) {
	backend := inmemory.NewStore("edgestore")
	for _, conf := range []ExpirationConfig{
		{Expiration: 0, MaxBytes: 1},
		{Expiration: time.Second, GracePeriod: -1, MaxBytes: 1},
		{Expiration: time.Second},
	} {
		_, err := NewExpirationKCVSCache(backend, conf)
		assert.Equal(t, kcv.ErrInvalidArgument, errors.Cause(err))
	}
}

func TestSlicesAreCached(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v1"), E(2, "v2"))

	assert.Equal(t, kcv.EntryList{E(1, "v1"), E(2, "v2")}, f.read(t, "a"))
	assert.Equal(t, kcv.EntryList{E(1, "v1"), E(2, "v2")}, f.read(t, "a"))
	assert.Equal(t, int32(1), f.counted.getSliceCalls.Load())

	readSlice(t, f.cache, "a", Slice(0, 2), f.txh)
	assert.Equal(t, int32(2), f.counted.getSliceCalls.Load())
	assert.Equal(t, 2, f.cache.Len())
	assert.Positive(t, f.cache.Weight())
}

func TestCachedSliceIsNotShared(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v1"))

	got := f.read(t, "a")
	got[0] = E(1, "changed")
	assert.Equal(t, kcv.EntryList{E(1, "v1")}, f.read(t, "a"))
}

func TestInvalidatedKeyBypassesCache(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "old"))
	f.read(t, "a")

	f.write(t, "a", E(1, "new"))
	assert.Equal(t, kcv.EntryList{E(1, "old")}, f.read(t, "a"))

	f.cache.Invalidate(Val("a"), []kcv.StaticBuffer{Col(1)})
	assert.Equal(t, kcv.EntryList{E(1, "new")}, f.read(t, "a"))
	assert.Equal(t, kcv.EntryList{E(1, "new")}, f.read(t, "a"))
	assert.Equal(t, int32(3), f.counted.getSliceCalls.Load())
}

func TestInvalidationLapses(t *testing.T) {
	conf := testExpirationConfig()
	conf.Expiration = 20 * time.Millisecond
	conf.GracePeriod = time.Hour
	f := newCacheFixture(t, conf)
	f.write(t, "a", E(1, "v"))

	f.cache.Invalidate(Val("a"), nil)
	assert.True(t, f.cache.isExpired(Val("a")))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, f.cache.isExpired(Val("a")))
	_, ok := f.cache.expiredKeys.Load(Val("a"))
	assert.False(t, ok)

	f.read(t, "a")
	f.read(t, "a")
	assert.Equal(t, int32(1), f.counted.getSliceCalls.Load())
}

func TestForceClearHonoursGracePeriod(t *testing.T) {
	conf := testExpirationConfig()
	conf.GracePeriod = time.Hour
	f := newCacheFixture(t, conf)
	f.write(t, "a", E(1, "v"))
	f.read(t, "a")

	f.cache.Invalidate(Val("a"), nil)
	f.cache.ForceClearExpiredCache()
	assert.Equal(t, 1, f.cache.Len())
	assert.True(t, f.cache.isExpired(Val("a")))
}

func TestForceClearEvictsStaleSlices(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v"))
	f.write(t, "b", E(1, "v"))
	f.read(t, "a")
	f.read(t, "b")

	f.cache.Invalidate(Val("a"), nil)
	f.cache.ForceClearExpiredCache()
	assert.Equal(t, 1, f.cache.Len())
	assert.False(t, f.cache.isExpired(Val("a")))

	f.read(t, "a")
	f.read(t, "a")
	assert.Equal(t, int32(3), f.counted.getSliceCalls.Load())
}

func TestExpiredReadsTriggerCleanup(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v"))
	f.read(t, "a")
	f.cache.Invalidate(Val("a"), nil)

	for i := 0; i < penaltyThreshold; i++ {
		f.read(t, "a")
	}
	assert.Eventually(t, func() bool {
		return f.cache.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCachedSliceExpires(t *testing.T) {
	conf := testExpirationConfig()
	conf.Expiration = 20 * time.Millisecond
	f := newCacheFixture(t, conf)
	f.write(t, "a", E(1, "v"))

	f.read(t, "a")
	f.read(t, "a")
	assert.Equal(t, int32(1), f.counted.getSliceCalls.Load())
	time.Sleep(40 * time.Millisecond)
	f.read(t, "a")
	assert.Equal(t, int32(2), f.counted.getSliceCalls.Load())
	assert.Equal(t, 1, f.cache.Len())
}

func TestSlowLoadIsNotCachedAfterCommit(t *testing.T) {
	manager := inmemory.NewStoreManager()
	s, err := manager.OpenDatabase("edgestore")
	require.NoError(t, err)
	blocking := newBlockingStore(s)
	c, err := NewExpirationKCVSCache(blocking, testExpirationConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	require.NoError(t, s.Mutate(Val("a"), []kcv.Entry{E(1, "old")}, nil, txh))

	done := make(chan kcv.EntryList, 1)
	go func() {
		entries, err := c.GetSlice(kcv.NewKeySliceQuery(Val("a"), Slice(0, 10)), txh)
		assert.NoError(t, err)
		done <- entries
	}()
	<-blocking.loaded

	tx, err := NewCacheTransaction(kcv.NewBaseTransaction(kcv.DefaultTxConfig()), manager, chunked(16))
	require.NoError(t, err)
	require.NoError(t, c.Mutate(Val("a"), []kcv.Entry{E(1, "new")}, nil, tx))
	require.NoError(t, tx.Commit())
	// Grace period is zero: the invalidation record is gone before the load finishes.
	c.ForceClearExpiredCache()
	_, recorded := c.expiredKeys.Load(Val("a"))
	require.False(t, recorded)

	close(blocking.release)
	assert.Equal(t, kcv.EntryList{E(1, "old")}, <-done)
	assert.Zero(t, c.Len())
	assert.Equal(t, kcv.EntryList{E(1, "new")}, readSlice(t, c, "a", Slice(0, 10), txh))
	assert.Equal(t, kcv.EntryList{E(1, "new")}, readSlice(t, c, "a", Slice(0, 10), txh))
}

func TestCacheWeightIsBounded(t *testing.T) {
	conf := testExpirationConfig()
	probe := kcv.NewKeySliceQuery(Val("k0"), Slice(0, 10))
	conf.MaxBytes = 3 * weigh(probe, kcv.EntryList{E(1, "value")})
	f := newCacheFixture(t, conf)
	for i := 0; i < 6; i++ {
		key := string(rune('a' + i))
		f.write(t, key, E(1, "value"))
		f.read(t, key)
		assert.LessOrEqual(t, f.cache.Weight(), conf.MaxBytes)
	}
	assert.Equal(t, 3, f.cache.Len())

	f.read(t, "f")
	assert.Equal(t, int32(6), f.counted.getSliceCalls.Load())
	f.read(t, "a")
	assert.Equal(t, int32(7), f.counted.getSliceCalls.Load())
}

func TestClearCache(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v"))
	f.read(t, "a")
	f.cache.Invalidate(Val("b"), nil)

	f.cache.ClearCache()
	assert.Zero(t, f.cache.Len())
	assert.Zero(t, f.cache.Weight())
	_, ok := f.cache.expiredKeys.Load(Val("b"))
	assert.False(t, ok)
}

func TestGetSlicesLoadsOnlyMisses(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "a"))
	f.write(t, "b", E(1, "b"))
	f.read(t, "a")

	keys := []kcv.StaticBuffer{Val("a"), Val("b"), Val("c"), Val("b")}
	got, err := f.cache.GetSlices(keys, Slice(0, 10), f.txh)
	require.NoError(t, err)
	assert.Equal(t, kcv.EntryList{E(1, "a")}, got[Val("a")])
	assert.Equal(t, kcv.EntryList{E(1, "b")}, got[Val("b")])
	assert.Empty(t, got[Val("c")])
	assert.Equal(t, int32(1), f.counted.getSlicesCalls.Load())

	_, err = f.cache.GetSlices(keys, Slice(0, 10), f.txh)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.counted.getSlicesCalls.Load())

	f.cache.Invalidate(Val("b"), nil)
	_, err = f.cache.GetSlices(keys, Slice(0, 10), f.txh)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.counted.getSlicesCalls.Load())
}

func TestCacheMetricsFollowPrefix(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v"))
	txh := kcv.NewBaseTransaction(kcv.TxConfig{MetricsPrefix: "cachetest"})
	retrievals := metrics.CacheRetrievals("cachetest", "edgestore")
	misses := metrics.CacheMisses("cachetest", "edgestore")
	before := testutil.ToFloat64(retrievals)
	missesBefore := testutil.ToFloat64(misses)

	readSlice(t, f.cache, "a", Slice(0, 10), txh)
	readSlice(t, f.cache, "a", Slice(0, 10), txh)
	f.read(t, "a")

	assert.Equal(t, 2.0, testutil.ToFloat64(retrievals)-before)
	assert.Equal(t, 1.0, testutil.ToFloat64(misses)-missesBefore)
}

func TestMutateNeedsCachingTransaction(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	err := f.cache.Mutate(Val("a"), []kcv.Entry{E(1, "v")}, nil, f.txh)
	assert.Equal(t, kcv.ErrInvalidArgument, errors.Cause(err))
	assert.False(t, kcv.IsTemporary(err))
}

func TestPassThroughReads(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	f.write(t, "a", E(1, "v"))
	f.write(t, "b", E(1, "v"))

	ok, err := f.cache.ContainsKey(Val("a"), f.txh)
	require.NoError(t, err)
	assert.True(t, ok)

	it, err := f.cache.GetKeys(Slice(0, 10), f.txh)
	require.NoError(t, err)
	assert.Equal(t, []kcv.StaticBuffer{Val("a"), Val("b")}, kcv.CollectKeys(it))

	err = f.cache.AcquireLock(Val("a"), Col(1), nil, f.txh)
	assert.Equal(t, kcv.ErrUnsupported, errors.Cause(err))
	assert.Same(t, f.counted, f.cache.Wrapped())
}

func TestCloseClosesWrappedStore(t *testing.T) {
	f := newCacheFixture(t, testExpirationConfig())
	require.NoError(t, f.cache.Close())
	assert.True(t, f.backend.IsClosed())
	require.NoError(t, f.cache.Close())

	_, err := f.cache.GetSlice(kcv.NewKeySliceQuery(Val("a"), Slice(0, 10)), f.txh)
	assert.Equal(t, kcv.ErrClosed, errors.Cause(err))
}
