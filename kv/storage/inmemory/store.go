package inmemory

import (
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/util/latches"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

type keyItem struct {
	key     kcv.StaticBuffer
	columns *ColumnValueStore
}

func lessKeyItem(a, b keyItem) bool {
	return a.key.Less(b.key)
}

const btreeDegree = 32

// Store is a key-column-value store held entirely in memory. Keys live in an ordered index, each pointing at the
// ColumnValueStore of its columns. A key stays in the index once created, even when all its columns are deleted,
// so a writer never publishes into a store that was dropped from the index.
type Store struct {
	name    string
	mu      sync.RWMutex
	index   *btree.BTreeG[keyItem]
	latches *latches.Latches
	closed  atomic.Bool
}

func NewStore(name string) *Store {
	return &Store{
		name:    name,
		index:   btree.NewG(btreeDegree, lessKeyItem),
		latches: latches.NewLatches(),
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.Annotatef(kcv.ErrClosed, "store %s", s.name)
	}
	return nil
}

func (s *Store) get(key kcv.StaticBuffer) *ColumnValueStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.index.Get(keyItem{key: key})
	if !ok {
		return nil
	}
	return item.columns
}

// getOrCreate returns the column store of key, inserting an empty one if absent.
func (s *Store) getOrCreate(key kcv.StaticBuffer) *ColumnValueStore {
	if cvs := s.get(key); cvs != nil {
		return cvs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.index.Get(keyItem{key: key}); ok {
		return item.columns
	}
	cvs := NewColumnValueStore()
	s.index.ReplaceOrInsert(keyItem{key: key, columns: cvs})
	return cvs
}

// snapshotIndex returns a private copy-on-write clone of the key index.
func (s *Store) snapshotIndex() *btree.BTreeG[keyItem] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Clone()
}

func (s *Store) ContainsKey(key kcv.StaticBuffer, txh kcv.StoreTransaction) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	release := s.latches.AcquireRead(key, kcv.ConsistencyOf(txh))
	defer release()
	cvs := s.get(key)
	return cvs != nil && !cvs.IsEmpty(), nil
}

func (s *Store) GetSlice(query kcv.KeySliceQuery, txh kcv.StoreTransaction) (kcv.EntryList, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	release := s.latches.AcquireRead(query.Key, kcv.ConsistencyOf(txh))
	defer release()
	cvs := s.get(query.Key)
	if cvs == nil {
		return kcv.EmptyEntryList, nil
	}
	return cvs.GetSlice(query.SliceQuery), nil
}

func (s *Store) GetSlices(keys []kcv.StaticBuffer, query kcv.SliceQuery, txh kcv.StoreTransaction) (map[kcv.StaticBuffer]kcv.EntryList, error) {
	result := make(map[kcv.StaticBuffer]kcv.EntryList, len(keys))
	for _, key := range keys {
		entries, err := s.GetSlice(kcv.NewKeySliceQuery(key, query), txh)
		if err != nil {
			return nil, err
		}
		result[key] = entries
	}
	return result, nil
}

func (s *Store) Mutate(key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(additions) == 0 && len(deletions) == 0 {
		return nil
	}
	release := s.latches.AcquireWrite(key, kcv.ConsistencyOf(txh))
	defer release()
	var cvs *ColumnValueStore
	if len(additions) == 0 {
		// Deleting from a key that never existed changes nothing.
		if cvs = s.get(key); cvs == nil {
			return nil
		}
	} else {
		cvs = s.getOrCreate(key)
	}
	cvs.Mutate(additions, deletions)
	return nil
}

// AcquireLock always fails: this engine has no native locking.
func (s *Store) AcquireLock(key, column kcv.StaticBuffer, expectedValue *kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	return kcv.ErrUnsupportedf("acquire lock on in-memory store %s", s.name)
}

func (s *Store) GetKeys(query kcv.SliceQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	return s.GetKeyRange(kcv.NewKeyRangeQuery(kcv.StaticBuffer{}, kcv.StaticBuffer{}, query), txh)
}

func (s *Store) GetKeyRange(query kcv.KeyRangeQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if level := kcv.ConsistencyOf(txh); level.IsKeyConsistent() {
		return nil, kcv.NewPermanentError(errors.Annotatef(kcv.ErrInconsistentLevel, "store %s at level %s", s.name, level))
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	it := &keyIterator{index: s.snapshotIndex(), query: query}
	it.seek(query.KeyStart, true)
	return it, nil
}

func (s *Store) LocalKeyPartition() ([]kcv.KeyRange, error) {
	return nil, kcv.ErrUnsupportedf("local key partition of in-memory store %s", s.name)
}

// Close drops the store's data. Later calls fail with kcv.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.clear()
	return nil
}

func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

func (s *Store) clear() {
	s.mu.Lock()
	s.index = btree.NewG(btreeDegree, lessKeyItem)
	s.mu.Unlock()
}

// IsEmpty reports whether no key holds a column.
func (s *Store) IsEmpty() bool {
	empty := true
	s.snapshotIndex().Ascend(func(item keyItem) bool {
		empty = item.columns.IsEmpty()
		return empty
	})
	return empty
}

// keyIterator walks a clone of the key index, so it never holds the store lock between calls and visits every key
// at most once.
type keyIterator struct {
	index   *btree.BTreeG[keyItem]
	query   kcv.KeyRangeQuery
	current keyItem
	entries kcv.EntryList
	valid   bool
}

// seek positions the iterator on the first key from pivot with at least one column in the slice.
func (it *keyIterator) seek(pivot kcv.StaticBuffer, inclusive bool) {
	it.valid = false
	it.entries = nil
	if it.index == nil {
		return
	}
	it.index.AscendGreaterOrEqual(keyItem{key: pivot}, func(item keyItem) bool {
		if !inclusive && item.key == pivot {
			return true
		}
		if !it.query.ContainsKey(item.key) {
			return false
		}
		entries := item.columns.GetSlice(it.query.SliceQuery)
		if len(entries) == 0 {
			return true
		}
		it.current, it.entries, it.valid = item, entries, true
		return false
	})
}

func (it *keyIterator) Valid() bool {
	return it.valid
}

func (it *keyIterator) Next() {
	if it.valid {
		it.seek(it.current.key, false)
	}
}

func (it *keyIterator) Key() kcv.StaticBuffer {
	return it.current.key
}

func (it *keyIterator) Entries() (kcv.EntryList, error) {
	if !it.valid {
		return nil, errors.New("iterator is not positioned on a key")
	}
	return it.entries, nil
}

func (it *keyIterator) Close() {
	it.valid = false
	it.index = nil
	it.entries = nil
}
