package cache

import "github.com/pingcap-incubator/tinykcv/kv/kcv"

// NoKCVSCache caches nothing: slices are read from the wrapped store and invalidations are ignored.
type NoKCVSCache struct {
	storeCache
}

func NewNoKCVSCache(store kcv.Store) *NoKCVSCache {
	return &NoKCVSCache{storeCache{store: store}}
}

func (c *NoKCVSCache) GetSlice(query kcv.KeySliceQuery, txh kcv.StoreTransaction) (kcv.EntryList, error) {
	return c.store.GetSlice(query, kcv.BackendTransaction(txh))
}

func (c *NoKCVSCache) GetSlices(keys []kcv.StaticBuffer, query kcv.SliceQuery, txh kcv.StoreTransaction) (map[kcv.StaticBuffer]kcv.EntryList, error) {
	return c.store.GetSlices(keys, query, kcv.BackendTransaction(txh))
}

func (c *NoKCVSCache) Mutate(key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	return mutate(c, key, additions, deletions, txh)
}

func (c *NoKCVSCache) Invalidate(key kcv.StaticBuffer, columns []kcv.StaticBuffer) {}

func (c *NoKCVSCache) ClearCache() {}

func (c *NoKCVSCache) Close() error {
	return c.store.Close()
}
