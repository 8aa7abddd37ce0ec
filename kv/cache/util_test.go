package cache

import (
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	. "github.com/pingcap-incubator/tinykcv/kv/kcv/kcvtest"
	"github.com/pingcap-incubator/tinykcv/kv/storage/inmemory"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// countingStore counts the slice reads that reach the backend.
type countingStore struct {
	kcv.Store
	getSliceCalls  atomic.Int32
	getSlicesCalls atomic.Int32
}

func (s *countingStore) GetSlice(query kcv.KeySliceQuery, txh kcv.StoreTransaction) (kcv.EntryList, error) {
	s.getSliceCalls.Inc()
	return s.Store.GetSlice(query, txh)
}

func (s *countingStore) GetSlices(keys []kcv.StaticBuffer, query kcv.SliceQuery, txh kcv.StoreTransaction) (map[kcv.StaticBuffer]kcv.EntryList, error) {
	s.getSlicesCalls.Inc()
	return s.Store.GetSlices(keys, query, txh)
}

// blockingStore parks the next GetSlice after it read from the backend, until release is closed.
type blockingStore struct {
	kcv.Store
	block   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newBlockingStore(s kcv.Store) *blockingStore {
	b := &blockingStore{Store: s, loaded: make(chan struct{}), release: make(chan struct{})}
	b.block.Store(true)
	return b
}

func (s *blockingStore) GetSlice(query kcv.KeySliceQuery, txh kcv.StoreTransaction) (kcv.EntryList, error) {
	entries, err := s.Store.GetSlice(query, txh)
	if s.block.CompareAndSwap(true, false) {
		close(s.loaded)
		<-s.release
	}
	return entries, err
}

// flakyManager fails MutateMany calls chosen by fail and records the size of every batch it lets through.
type flakyManager struct {
	kcv.StoreManager
	fail       func(call int) error
	calls      int
	chunkSizes []int
}

func (m *flakyManager) MutateMany(mutations map[string]map[kcv.StaticBuffer]*kcv.KCVMutation, txh kcv.StoreTransaction) error {
	m.calls++
	if m.fail != nil {
		if err := m.fail(m.calls); err != nil {
			return err
		}
	}
	m.chunkSizes = append(m.chunkSizes, kcv.MutationCount(mutations))
	return m.StoreManager.MutateMany(mutations, txh)
}

type recordedInvalidation struct {
	key     kcv.StaticBuffer
	columns []kcv.StaticBuffer
}

// recordingCache remembers its invalidations.
type recordingCache struct {
	*NoKCVSCache
	keysOnly      bool
	onInvalidate  func(key kcv.StaticBuffer)
	mu            sync.Mutex
	invalidations []recordedInvalidation
}

func (c *recordingCache) HasValidateKeysOnly() bool {
	return c.keysOnly
}

func (c *recordingCache) Invalidate(key kcv.StaticBuffer, columns []kcv.StaticBuffer) {
	if c.onInvalidate != nil {
		c.onInvalidate(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations = append(c.invalidations, recordedInvalidation{key: key, columns: columns})
}

func (c *recordingCache) invalidatedKeys() []kcv.StaticBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]kcv.StaticBuffer, 0, len(c.invalidations))
	for _, inv := range c.invalidations {
		keys = append(keys, inv.key)
	}
	return keys
}

type txFixture struct {
	manager *flakyManager
	backend *inmemory.StoreManager
	base    *kcv.BaseTransaction
}

func newTxFixture() *txFixture {
	backend := inmemory.NewStoreManager()
	return &txFixture{
		manager: &flakyManager{StoreManager: backend},
		backend: backend,
		base:    kcv.NewBaseTransaction(kcv.DefaultTxConfig()),
	}
}

func (f *txFixture) recordingCache(t *testing.T, name string) *recordingCache {
	s, err := f.backend.OpenDatabase(name)
	require.NoError(t, err)
	return &recordingCache{NoKCVSCache: NewNoKCVSCache(s)}
}

func (f *txFixture) begin(t *testing.T, conf TransactionConfig) *CacheTransaction {
	tx, err := NewCacheTransaction(f.base, f.manager, conf)
	require.NoError(t, err)
	return tx
}

func chunked(size int) TransactionConfig {
	return TransactionConfig{PersistChunkSize: size, WriteAttempts: 3, AttemptWait: 0}
}

func readSlice(t *testing.T, s kcv.Store, key string, q kcv.SliceQuery, txh kcv.StoreTransaction) kcv.EntryList {
	entries, err := s.GetSlice(kcv.NewKeySliceQuery(Val(key), q), txh)
	require.NoError(t, err)
	return entries
}
