package cache

import (
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/metrics"
	"github.com/pingcap-incubator/tinykcv/kv/util/retry"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/pingcap/errors"
)

type TransactionConfig struct {
	// PersistChunkSize bounds the number of mutations sent to the backend in one call.
	PersistChunkSize int
	WriteAttempts    int
	AttemptWait      time.Duration
	// ContinuousPersistence flushes whenever PersistChunkSize mutations are pending.
	ContinuousPersistence bool
}

func (c TransactionConfig) validate() error {
	if c.PersistChunkSize <= 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "persist chunk size must be positive, got %d", c.PersistChunkSize)
	}
	if c.WriteAttempts <= 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "write attempts must be positive, got %d", c.WriteAttempts)
	}
	if c.AttemptWait < 0 {
		return errors.Annotatef(kcv.ErrInvalidArgument, "attempt wait must not be negative, got %v", c.AttemptWait)
	}
	return nil
}

// pendingStore holds the buffered mutations of one cache in the order their keys were first written.
type pendingStore struct {
	cache     KCVSCache
	keys      []kcv.StaticBuffer
	mutations map[kcv.StaticBuffer]*kcv.KCVMutation
}

func (p *pendingStore) size() int {
	n := 0
	for _, m := range p.mutations {
		n += m.TotalMutations()
	}
	return n
}

type touchedKey struct {
	cache    KCVSCache
	key      kcv.StaticBuffer
	mutation *kcv.KCVMutation
}

// chunk is one MutateMany call and the cache rows it makes stale.
type chunk struct {
	mutations map[string]map[kcv.StaticBuffer]*kcv.KCVMutation
	touched   []touchedKey
	size      int
}

func newChunk() *chunk {
	return &chunk{mutations: make(map[string]map[kcv.StaticBuffer]*kcv.KCVMutation)}
}

func (c *chunk) add(cache KCVSCache, key kcv.StaticBuffer, m *kcv.KCVMutation) {
	byKey, ok := c.mutations[cache.Name()]
	if !ok {
		byKey = make(map[kcv.StaticBuffer]*kcv.KCVMutation)
		c.mutations[cache.Name()] = byKey
	}
	if prev, ok := byKey[key]; ok {
		merged := kcv.NewKCVMutation(prev.Additions(), prev.Deletions())
		merged.Merge(m)
		merged.Consolidate()
		byKey[key] = merged
	} else {
		byKey[key] = m
	}
	c.touched = append(c.touched, touchedKey{cache: cache, key: key, mutation: m})
	c.size += m.TotalMutations()
}

// CacheTransaction buffers mutations against caches and writes them to the backend in bounded chunks on flush or
// commit. Reads do not see the buffered mutations. A CacheTransaction must not be shared between goroutines.
type CacheTransaction struct {
	tx      kcv.StoreTransaction
	manager kcv.StoreManager
	conf    TransactionConfig

	numMutations int
	stores       []*pendingStore
	byCache      map[KCVSCache]*pendingStore
}

func NewCacheTransaction(tx kcv.StoreTransaction, manager kcv.StoreManager, conf TransactionConfig) (*CacheTransaction, error) {
	if tx == nil || manager == nil {
		return nil, errors.Annotate(kcv.ErrInvalidArgument, "cache transaction needs a backend transaction and manager")
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &CacheTransaction{
		tx:      tx,
		manager: manager,
		conf:    conf,
		byCache: make(map[KCVSCache]*pendingStore),
	}, nil
}

func (t *CacheTransaction) Config() kcv.TxConfig {
	return t.tx.Config()
}

func (t *CacheTransaction) Unwrap() kcv.StoreTransaction {
	return t.tx
}

// PendingMutations is the number of additions and deletions buffered since the last flush.
func (t *CacheTransaction) PendingMutations() int {
	return t.numMutations
}

// Mutate buffers a mutation of key in cache, merging it after any mutation of the same key already pending.
func (t *CacheTransaction) Mutate(cache KCVSCache, key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer) error {
	if len(additions) == 0 && len(deletions) == 0 {
		return nil
	}
	m := kcv.NewKCVMutation(additions, deletions)
	pending, ok := t.byCache[cache]
	if !ok {
		pending = &pendingStore{cache: cache, mutations: make(map[kcv.StaticBuffer]*kcv.KCVMutation)}
		t.byCache[cache] = pending
		t.stores = append(t.stores, pending)
	}
	if prev, ok := pending.mutations[key]; ok {
		prev.Merge(m)
	} else {
		pending.mutations[key] = m
		pending.keys = append(pending.keys, key)
	}
	t.numMutations += m.TotalMutations()
	if t.conf.ContinuousPersistence && t.numMutations >= t.conf.PersistChunkSize {
		return t.flushInternal()
	}
	return nil
}

// flushInternal consolidates the buffered mutations and persists them chunk by chunk. A store whose mutations fit
// in the current chunk with half of it to spare is added whole, otherwise it is split by key. The rows of each
// chunk are invalidated as soon as that chunk is persisted. On failure the buffer is kept.
func (t *CacheTransaction) flushInternal() error {
	if t.numMutations == 0 {
		return nil
	}
	limit := t.conf.PersistChunkSize
	current := newChunk()
	for _, pending := range t.stores {
		for _, m := range pending.mutations {
			m.Consolidate()
		}
		size := pending.size()
		if (current.size+size)*3 <= limit*2 {
			for _, key := range pending.keys {
				current.add(pending.cache, key, pending.mutations[key])
			}
			if current.size >= limit {
				if err := t.persistAndInvalidate(current); err != nil {
					return err
				}
				current = newChunk()
			}
			continue
		}
		for _, key := range pending.keys {
			current.add(pending.cache, key, pending.mutations[key])
			if current.size >= limit {
				if err := t.persistAndInvalidate(current); err != nil {
					return err
				}
				current = newChunk()
			}
		}
	}
	if current.size > 0 {
		if err := t.persistAndInvalidate(current); err != nil {
			return err
		}
	}
	t.clear()
	return nil
}

func (t *CacheTransaction) persistAndInvalidate(c *chunk) error {
	if err := t.persist(c); err != nil {
		return err
	}
	for _, tk := range c.touched {
		tk.cache.Invalidate(tk.key, changedColumns(tk.cache, tk.mutation))
	}
	return nil
}

func (t *CacheTransaction) persist(c *chunk) error {
	start := time.Now()
	attempt := 0
	err := retry.Execute("persist", retry.Policy{Attempts: t.conf.WriteAttempts, Wait: t.conf.AttemptWait}, func() error {
		attempt++
		if attempt > 1 {
			metrics.Persist(metrics.PersistRetry)
		}
		return t.manager.MutateMany(c.mutations, t.tx)
	})
	metrics.ObservePersist(time.Since(start).Seconds())
	if err != nil {
		metrics.Persist(metrics.PersistFailure)
		return err
	}
	metrics.Persist(metrics.PersistSuccess)
	log.Debugf("persisted %d mutations of %d stores", c.size, len(c.mutations))
	return nil
}

func (t *CacheTransaction) clear() {
	t.stores = nil
	t.byCache = make(map[KCVSCache]*pendingStore)
	t.numMutations = 0
}

// Flush persists the buffered mutations and leaves the transaction open.
func (t *CacheTransaction) Flush() error {
	if err := t.flushInternal(); err != nil {
		return err
	}
	return t.tx.Flush()
}

func (t *CacheTransaction) Commit() error {
	if err := t.flushInternal(); err != nil {
		return err
	}
	return t.tx.Commit()
}

// Rollback drops the buffered mutations. Chunks persisted by earlier flushes stay.
func (t *CacheTransaction) Rollback() error {
	t.clear()
	return t.tx.Rollback()
}
