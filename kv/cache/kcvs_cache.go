package cache

import (
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap/errors"
)

// KCVSCache is a kcv.Store decorated with a read cache. Writes go through a CacheTransaction, which buffers them,
// or an ExpirationTransaction, which queues the invalidation before writing through.
type KCVSCache interface {
	kcv.Store
	// Invalidate marks the cached data of key stale. columns lists the changed columns; it is empty when the
	// cache validates keys only.
	Invalidate(key kcv.StaticBuffer, columns []kcv.StaticBuffer)
	// HasValidateKeysOnly reports whether invalidation is per key rather than per column.
	HasValidateKeysOnly() bool
	// ClearCache drops every cached row.
	ClearCache()
	// Wrapped returns the underlying store.
	Wrapped() kcv.Store
}

// storeCache carries the pass-through half shared by every cache: all reads other than slices go straight to the
// wrapped store with the backend transaction handle.
type storeCache struct {
	store            kcv.Store
	validateKeysOnly bool
}

func (c *storeCache) Name() string {
	return c.store.Name()
}

func (c *storeCache) Wrapped() kcv.Store {
	return c.store
}

func (c *storeCache) HasValidateKeysOnly() bool {
	return c.validateKeysOnly
}

func (c *storeCache) ContainsKey(key kcv.StaticBuffer, txh kcv.StoreTransaction) (bool, error) {
	return c.store.ContainsKey(key, kcv.BackendTransaction(txh))
}

func (c *storeCache) AcquireLock(key, column kcv.StaticBuffer, expectedValue *kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	return c.store.AcquireLock(key, column, expectedValue, kcv.BackendTransaction(txh))
}

func (c *storeCache) GetKeys(query kcv.SliceQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	return c.store.GetKeys(query, kcv.BackendTransaction(txh))
}

func (c *storeCache) GetKeyRange(query kcv.KeyRangeQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	return c.store.GetKeyRange(query, kcv.BackendTransaction(txh))
}

func (c *storeCache) LocalKeyPartition() ([]kcv.KeyRange, error) {
	return c.store.LocalKeyPartition()
}

// mutate routes a write against cache according to the transaction it was issued under.
func mutate(cache KCVSCache, key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	switch tx := txh.(type) {
	case *ExpirationTransaction:
		tx.expireMutations(cache, key, additions, deletions)
		return cache.Wrapped().Mutate(key, additions, deletions, tx.Unwrap())
	case *CacheTransaction:
		return tx.Mutate(cache, key, additions, deletions)
	}
	return kcv.NewPermanentError(errors.Annotatef(kcv.ErrInvalidArgument,
		"store %s must be mutated through a cache or expiration transaction, got %T", cache.Name(), txh))
}

// changedColumns lists what an invalidation of m passes to cache.
func changedColumns(cache KCVSCache, m *kcv.KCVMutation) []kcv.StaticBuffer {
	if cache.HasValidateKeysOnly() {
		return nil
	}
	return m.ChangedColumns()
}

func copyEntries(entries kcv.EntryList) kcv.EntryList {
	out := make(kcv.EntryList, len(entries))
	copy(out, entries)
	return out
}
