package cache

import "github.com/pingcap-incubator/tinykcv/kv/kcv"

type invalidation struct {
	cache   KCVSCache
	key     kcv.StaticBuffer
	columns []kcv.StaticBuffer
}

// ExpirationTransaction writes straight through to the backend transaction. Every write queues an invalidation of
// the written row, and the queue is applied in order before the backend transaction flushes or commits.
type ExpirationTransaction struct {
	tx      kcv.StoreTransaction
	pending []invalidation
}

func NewExpirationTransaction(tx kcv.StoreTransaction) *ExpirationTransaction {
	return &ExpirationTransaction{tx: tx}
}

func (t *ExpirationTransaction) Config() kcv.TxConfig {
	return t.tx.Config()
}

func (t *ExpirationTransaction) Unwrap() kcv.StoreTransaction {
	return t.tx
}

// PendingInvalidations is the number of queued invalidations.
func (t *ExpirationTransaction) PendingInvalidations() int {
	return len(t.pending)
}

func (t *ExpirationTransaction) expireMutations(cache KCVSCache, key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer) {
	inv := invalidation{cache: cache, key: key}
	if !cache.HasValidateKeysOnly() {
		inv.columns = kcv.NewKCVMutation(additions, deletions).ChangedColumns()
	}
	t.pending = append(t.pending, inv)
}

func (t *ExpirationTransaction) invalidate() {
	for _, inv := range t.pending {
		inv.cache.Invalidate(inv.key, inv.columns)
	}
	t.pending = nil
}

func (t *ExpirationTransaction) Flush() error {
	t.invalidate()
	return t.tx.Flush()
}

func (t *ExpirationTransaction) Commit() error {
	t.invalidate()
	return t.tx.Commit()
}

// Rollback drops the queued invalidations. The writes already reached the backend transaction, which decides
// whether they are undone.
func (t *ExpirationTransaction) Rollback() error {
	t.pending = nil
	return t.tx.Rollback()
}
