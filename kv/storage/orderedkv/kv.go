package orderedkv

import (
	"bytes"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
)

// OrderedKeyValueStore is one namespace of an ordered byte-key engine.
type OrderedKeyValueStore interface {
	Name() string
	// Get returns the value of key and whether it exists.
	Get(key []byte) ([]byte, bool, error)
	// Scan calls fn for every pair with start <= key < end, ascending, until fn returns false. A nil end is
	// unbounded. The slices passed to fn are only valid during the call.
	Scan(start, end []byte, fn func(key, value []byte) bool) error
	// Write applies the batch atomically.
	Write(batch *WriteBatch) error
	Close() error
}

// OrderedKeyValueManager opens namespaces on one engine instance.
type OrderedKeyValueManager interface {
	Name() string
	OpenStore(name string) (OrderedKeyValueStore, error)
	Features() kcv.StoreFeatures
	Exists() (bool, error)
	Clear() error
	Close() error
}

// Modify is a single put or delete of a WriteBatch.
type Modify struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// WriteBatch collects modifications to be applied in one engine write.
type WriteBatch struct {
	Modifies      []Modify
	size          int
	safePoint     int
	safePointSize int
}

func (wb *WriteBatch) Len() int {
	return len(wb.Modifies)
}

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) Set(key, val []byte) {
	wb.Modifies = append(wb.Modifies, Modify{Key: key, Value: val})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) Delete(key []byte) {
	wb.Modifies = append(wb.Modifies, Modify{Key: key, Delete: true})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.Modifies)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.Modifies = wb.Modifies[:wb.safePoint]
	wb.size = wb.safePointSize
}

func (wb *WriteBatch) Reset() {
	wb.Modifies = wb.Modifies[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}

// ExceedEndKey reports whether key is at or past the exclusive end. A nil end never ends.
func ExceedEndKey(key, end []byte) bool {
	if len(end) == 0 {
		return false
	}
	return bytes.Compare(key, end) >= 0
}
