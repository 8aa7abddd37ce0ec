package cache

import (
	"math"
	"math/rand"
	"sync"
	"time"

	farm "github.com/dgryski/go-farm"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/metrics"
	"github.com/pingcap-incubator/tinykcv/kv/util/worker"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

const (
	// penaltyThreshold is how many hits on invalidated keys trigger a cleanup of the expired keys.
	penaltyThreshold = 5
	// Invalidations count down the penalty with a probability of 1/invalidationPenaltyOdds.
	invalidationPenaltyOdds = 1000
	// queryOverhead approximates the bytes a cached query costs beyond its key and entries.
	queryOverhead = 64
	// invalidationStripes is the number of invalidation counters keys are hashed onto.
	invalidationStripes = 1024
)

type ExpirationConfig struct {
	// Expiration is how long a cached slice is served. Must be positive.
	Expiration time.Duration
	// GracePeriod is how long an invalidated key stays expired before its cached slices are evicted.
	GracePeriod time.Duration
	// MaxBytes bounds the estimated size of the cached slices. Must be positive.
	MaxBytes int64
	// ValidateKeysOnly makes invalidations cover whole keys.
	ValidateKeysOnly bool
}

func (c ExpirationConfig) validate() error {
	if c.Expiration <= 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "cache expiration must be positive, got %v", c.Expiration)
	}
	if c.GracePeriod < 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "cache grace period must not be negative, got %v", c.GracePeriod)
	}
	if c.MaxBytes <= 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "cache size must be positive, got %d", c.MaxBytes)
	}
	return nil
}

type cleanupTask struct {
	newPenalty bool
}

type cachedSlice struct {
	entries  kcv.EntryList
	deadline int64
}

// ExpirationKCVSCache caches slice reads for a fixed time. An invalidated key is read from the wrapped store until
// its invalidation expires; its stale slices are evicted after a grace period by a background cleaner that runs
// once enough reads have hit invalidated keys.
type ExpirationKCVSCache struct {
	storeCache
	conf  ExpirationConfig
	cache *lru.Cache[kcv.KeySliceQuery, cachedSlice]

	// weightMu serializes inserts so the weight bound can be enforced.
	weightMu sync.Mutex
	weight   atomic.Int64

	// expiredKeys maps an invalidated key to the unix nanos until which it bypasses the cache.
	expiredKeys sync.Map
	// generations count the invalidations of the keys hashed onto each stripe. A load that saw a stripe change
	// may have read data older than the invalidation and is not cached.
	generations [invalidationStripes]atomic.Uint64
	penalty     atomic.Int32
	cleanMu     sync.Mutex

	cleaner *worker.Worker
	wg      sync.WaitGroup
	closed  atomic.Bool
}

func NewExpirationKCVSCache(store kcv.Store, conf ExpirationConfig) (*ExpirationKCVSCache, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	c := &ExpirationKCVSCache{
		storeCache: storeCache{store: store, validateKeysOnly: conf.ValidateKeysOnly},
		conf:       conf,
	}
	// Every cached slice weighs at least queryOverhead, so the weight bound is reached before this one.
	capacity := conf.MaxBytes/queryOverhead + 1
	if capacity > math.MaxInt32 {
		capacity = math.MaxInt32
	}
	var err error
	if c.cache, err = lru.NewWithEvict[kcv.KeySliceQuery, cachedSlice](int(capacity), c.onEvict); err != nil {
		return nil, errors.Trace(err)
	}
	c.penalty.Store(penaltyThreshold)
	c.cleaner = worker.NewWorkerWithCapacity("cache-cleaner-"+store.Name(), &c.wg, 1)
	c.cleaner.Start(c)
	return c, nil
}

// Handle runs a cleanup on the cleaner goroutine.
func (c *ExpirationKCVSCache) Handle(t worker.Task) {
	task, ok := t.(cleanupTask)
	if !ok {
		log.Errorf("unexpected task %T in cache cleaner of %s", t, c.Name())
		return
	}
	c.clearExpiredCache(task.newPenalty)
}

func weigh(q kcv.KeySliceQuery, entries kcv.EntryList) int64 {
	return int64(queryOverhead + q.Key.Len() + q.Start.Len() + q.End.Len() + entries.ByteSize())
}

func (c *ExpirationKCVSCache) onEvict(q kcv.KeySliceQuery, v cachedSlice) {
	c.weight.Sub(weigh(q, v.entries))
}

// get returns the cached slice of q, dropping it once its deadline passed.
func (c *ExpirationKCVSCache) get(q kcv.KeySliceQuery) (kcv.EntryList, bool) {
	v, ok := c.cache.Get(q)
	if !ok {
		return nil, false
	}
	if v.deadline < c.now() {
		c.cache.Remove(q)
		return nil, false
	}
	return v.entries, true
}

func (c *ExpirationKCVSCache) put(q kcv.KeySliceQuery, entries kcv.EntryList) {
	w := weigh(q, entries)
	if w > c.conf.MaxBytes {
		return
	}
	c.weightMu.Lock()
	defer c.weightMu.Unlock()
	// Replacing an entry does not fire the eviction callback.
	c.cache.Remove(q)
	c.cache.Add(q, cachedSlice{entries: entries, deadline: c.now() + int64(c.conf.Expiration)})
	c.weight.Add(w)
	for c.weight.Load() > c.conf.MaxBytes {
		if _, _, ok := c.cache.RemoveOldest(); !ok {
			break
		}
	}
}

func (c *ExpirationKCVSCache) now() int64 {
	return time.Now().UnixNano()
}

func (c *ExpirationKCVSCache) generation(key kcv.StaticBuffer) *atomic.Uint64 {
	return &c.generations[farm.Fingerprint32([]byte(key.Raw()))%invalidationStripes]
}

func (c *ExpirationKCVSCache) penaltyCountdown() {
	if c.penalty.Dec() == 0 {
		c.cleaner.TrySend(cleanupTask{newPenalty: true})
	}
}

// isExpired reports whether key is still invalidated, dropping the record once it lapsed.
func (c *ExpirationKCVSCache) isExpired(key kcv.StaticBuffer) bool {
	v, ok := c.expiredKeys.Load(key)
	if !ok {
		return false
	}
	until := v.(int64)
	if until < c.now() {
		c.expiredKeys.CompareAndDelete(key, until)
		return false
	}
	c.penaltyCountdown()
	return true
}

func (c *ExpirationKCVSCache) GetSlice(query kcv.KeySliceQuery, txh kcv.StoreTransaction) (kcv.EntryList, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	prefix := kcv.MetricsPrefixOf(txh)
	metrics.CacheRetrieval(prefix, c.Name())
	if c.isExpired(query.Key) {
		metrics.CacheMiss(prefix, c.Name())
		return c.store.GetSlice(query, kcv.BackendTransaction(txh))
	}
	if entries, ok := c.get(query); ok {
		return copyEntries(entries), nil
	}
	metrics.CacheMiss(prefix, c.Name())
	gen := c.generation(query.Key).Load()
	entries, err := c.store.GetSlice(query, kcv.BackendTransaction(txh))
	if err != nil {
		return nil, err
	}
	c.cacheLoaded(query, entries, gen)
	return entries, nil
}

// cacheLoaded stores a slice read from the wrapped store unless its key was invalidated since gen was read, or is
// still invalidated.
func (c *ExpirationKCVSCache) cacheLoaded(query kcv.KeySliceQuery, entries kcv.EntryList, gen uint64) {
	if c.generation(query.Key).Load() != gen {
		return
	}
	if _, invalidated := c.expiredKeys.Load(query.Key); invalidated {
		return
	}
	c.put(query, copyEntries(entries))
}

func (c *ExpirationKCVSCache) GetSlices(keys []kcv.StaticBuffer, query kcv.SliceQuery, txh kcv.StoreTransaction) (map[kcv.StaticBuffer]kcv.EntryList, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	prefix := kcv.MetricsPrefixOf(txh)
	results := make(map[kcv.StaticBuffer]kcv.EntryList, len(keys))
	var remaining []kcv.StaticBuffer
	gens := make(map[kcv.StaticBuffer]uint64)
	expired := make(map[kcv.StaticBuffer]bool)
	seen := make(map[kcv.StaticBuffer]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		metrics.CacheRetrieval(prefix, c.Name())
		if c.isExpired(key) {
			expired[key] = true
		} else if entries, ok := c.get(kcv.KeySliceQuery{Key: key, SliceQuery: query}); ok {
			results[key] = copyEntries(entries)
			continue
		}
		metrics.CacheMiss(prefix, c.Name())
		gens[key] = c.generation(key).Load()
		remaining = append(remaining, key)
	}
	if len(remaining) == 0 {
		return results, nil
	}
	loaded, err := c.store.GetSlices(remaining, query, kcv.BackendTransaction(txh))
	if err != nil {
		return nil, err
	}
	for _, key := range remaining {
		entries, ok := loaded[key]
		if !ok {
			entries = kcv.EmptyEntryList
		}
		results[key] = entries
		if !expired[key] {
			c.cacheLoaded(kcv.KeySliceQuery{Key: key, SliceQuery: query}, entries, gens[key])
		}
	}
	return results, nil
}

func (c *ExpirationKCVSCache) Mutate(key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return mutate(c, key, additions, deletions, txh)
}

// Invalidate expires key for one expiration period. The columns are not used: every slice of key is affected.
func (c *ExpirationKCVSCache) Invalidate(key kcv.StaticBuffer, columns []kcv.StaticBuffer) {
	c.expiredKeys.Store(key, c.now()+int64(c.conf.Expiration))
	c.generation(key).Inc()
	metrics.CacheInvalidation(c.Name())
	if rand.Intn(invalidationPenaltyOdds) == 0 {
		c.penaltyCountdown()
	}
}

// clearExpiredCache forgets lapsed invalidations and evicts the cached slices of keys invalidated longer ago than
// the grace period.
func (c *ExpirationKCVSCache) clearExpiredCache(newPenalty bool) {
	c.cleanMu.Lock()
	defer c.cleanMu.Unlock()
	now := c.now()
	graceKeys := make(map[kcv.StaticBuffer]int64)
	c.expiredKeys.Range(func(k, v interface{}) bool {
		until := v.(int64)
		if until < now {
			c.expiredKeys.CompareAndDelete(k, until)
		} else if now-(until-int64(c.conf.Expiration)) >= int64(c.conf.GracePeriod) {
			graceKeys[k.(kcv.StaticBuffer)] = until
		}
		return true
	})
	evicted := 0
	for _, q := range c.cache.Keys() {
		if _, ok := graceKeys[q.Key]; ok {
			if c.cache.Remove(q) {
				evicted++
			}
		}
	}
	if newPenalty {
		c.penalty.Store(penaltyThreshold)
	}
	for k, until := range graceKeys {
		c.expiredKeys.CompareAndDelete(k, until)
	}
	if evicted > 0 {
		log.Debugf("cache of %s evicted %d slices of %d invalidated keys", c.Name(), evicted, len(graceKeys))
	}
}

// ForceClearExpiredCache runs a cleanup on the calling goroutine.
func (c *ExpirationKCVSCache) ForceClearExpiredCache() {
	c.clearExpiredCache(false)
}

func (c *ExpirationKCVSCache) ClearCache() {
	c.ForceClearExpiredCache()
	c.weightMu.Lock()
	defer c.weightMu.Unlock()
	c.cache.Purge()
	c.weight.Store(0)
}

// Len is the number of cached slices.
func (c *ExpirationKCVSCache) Len() int {
	return c.cache.Len()
}

// Weight is the estimated size in bytes of the cached slices.
func (c *ExpirationKCVSCache) Weight() int64 {
	return c.weight.Load()
}

func (c *ExpirationKCVSCache) checkOpen() error {
	if c.closed.Load() {
		return errors.Annotatef(kcv.ErrClosed, "cache of %s", c.Name())
	}
	return nil
}

// Close stops the cleaner, drops the cached slices and closes the wrapped store.
func (c *ExpirationKCVSCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cleaner.Stop()
	c.wg.Wait()
	c.cache.Purge()
	return c.store.Close()
}
