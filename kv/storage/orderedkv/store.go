package orderedkv

import (
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/kv/util/codec"
	"github.com/pingcap-incubator/tinykcv/kv/util/latches"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Store exposes an OrderedKeyValueStore as a kcv.Store. Every (key, column) pair is one engine key built by
// codec.EncodeKeyColumn, so a key's columns are contiguous and sorted by column.
type Store struct {
	kv      OrderedKeyValueStore
	latches *latches.Latches
	closed  atomic.Bool
}

func NewStore(kv OrderedKeyValueStore) *Store {
	return &Store{kv: kv, latches: latches.NewLatches()}
}

func (s *Store) Name() string {
	return s.kv.Name()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.Annotatef(kcv.ErrClosed, "store %s", s.Name())
	}
	return nil
}

// backendError marks engine failures as retryable.
func backendError(err error) error {
	if err == nil {
		return nil
	}
	return kcv.NewTemporaryError(errors.Trace(err))
}

func (s *Store) ContainsKey(key kcv.StaticBuffer, txh kcv.StoreTransaction) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	release := s.latches.AcquireRead(key, kcv.ConsistencyOf(txh))
	defer release()
	prefix := codec.KeyPrefix(key.Bytes())
	found := false
	err := s.kv.Scan(prefix, codec.PrefixNext(prefix), func(_, _ []byte) bool {
		found = true
		return false
	})
	return found, backendError(err)
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
	return s.slice(query.Key.Bytes(), query.SliceQuery)
}

func (s *Store) slice(key []byte, query kcv.SliceQuery) (kcv.EntryList, error) {
	if query.IsEmpty() {
		return kcv.EmptyEntryList, nil
	}
	prefixLen := len(codec.KeyPrefix(key))
	start := codec.EncodeKeyColumn(key, query.Start.Bytes())
	end := codec.EncodeKeyColumn(key, query.End.Bytes())
	entries := kcv.EntryList{}
	err := s.kv.Scan(start, end, func(k, v []byte) bool {
		entries = append(entries, kcv.NewEntry(kcv.NewStaticBuffer(k[prefixLen:]), kcv.NewStaticBuffer(v)))
		return !query.HasLimit() || len(entries) < query.Limit
	})
	if err != nil {
		return nil, backendError(err)
	}
	return entries, nil
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

// Mutate writes the deletions and then the additions of key in one engine batch.
func (s *Store) Mutate(key kcv.StaticBuffer, additions []kcv.Entry, deletions []kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(additions) == 0 && len(deletions) == 0 {
		return nil
	}
	mut := kcv.NewKCVMutation(additions, deletions)
	mut.Consolidate()

	raw := key.Bytes()
	wb := new(WriteBatch)
	for _, col := range mut.Deletions() {
		wb.Delete(codec.EncodeKeyColumn(raw, col.Bytes()))
	}
	for _, e := range mut.Additions() {
		wb.Set(codec.EncodeKeyColumn(raw, e.Column.Bytes()), e.Value.Bytes())
	}

	release := s.latches.AcquireWrite(key, kcv.ConsistencyOf(txh))
	defer release()
	return backendError(s.kv.Write(wb))
}

func (s *Store) AcquireLock(key, column kcv.StaticBuffer, expectedValue *kcv.StaticBuffer, txh kcv.StoreTransaction) error {
	return kcv.ErrUnsupportedf("acquire lock on ordered store %s", s.Name())
}

func (s *Store) GetKeys(query kcv.SliceQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	return s.GetKeyRange(kcv.NewKeyRangeQuery(kcv.StaticBuffer{}, kcv.StaticBuffer{}, query), txh)
}

func (s *Store) GetKeyRange(query kcv.KeyRangeQuery, txh kcv.StoreTransaction) (kcv.KeyIterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if level := kcv.ConsistencyOf(txh); level.IsKeyConsistent() {
		return nil, kcv.NewPermanentError(errors.Annotatef(kcv.ErrInconsistentLevel, "store %s at level %s", s.Name(), level))
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	it := &keyIterator{store: s, query: query}
	if !query.KeyEnd.IsEmpty() {
		it.end = codec.KeyPrefix(query.KeyEnd.Bytes())
	}
	it.seek(codec.KeyPrefix(query.KeyStart.Bytes()))
	if it.err != nil {
		return nil, backendError(it.err)
	}
	return it, nil
}

func (s *Store) LocalKeyPartition() ([]kcv.KeyRange, error) {
	return nil, kcv.ErrUnsupportedf("local key partition of ordered store %s", s.Name())
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return errors.Trace(s.kv.Close())
}

// keyIterator walks engine keys in order, positioning on each key that has a column in the slice.
type keyIterator struct {
	store   *Store
	query   kcv.KeyRangeQuery
	end     []byte
	key     kcv.StaticBuffer
	entries kcv.EntryList
	valid   bool
	err     error
}

// seek moves to the first qualifying key whose engine prefix is at or after from.
func (it *keyIterator) seek(from []byte) {
	it.valid = false
	it.entries = nil
	for from != nil && it.err == nil {
		var found []byte
		it.err = it.store.kv.Scan(from, it.end, func(k, _ []byte) bool {
			_, key, err := codec.DecodeBytes(k)
			if err != nil {
				it.err = err
				return false
			}
			found = key
			return false
		})
		if it.err != nil || found == nil {
			return
		}
		entries, err := it.store.slice(found, it.query.SliceQuery)
		if err != nil {
			it.err = err
			return
		}
		if len(entries) > 0 {
			it.key, it.entries, it.valid = kcv.NewStaticBuffer(found), entries, true
			return
		}
		from = codec.PrefixNext(codec.KeyPrefix(found))
	}
}

func (it *keyIterator) Valid() bool {
	return it.valid
}

func (it *keyIterator) Next() {
	if !it.valid {
		return
	}
	it.seek(codec.PrefixNext(codec.KeyPrefix(it.key.Bytes())))
}

func (it *keyIterator) Key() kcv.StaticBuffer {
	return it.key
}

func (it *keyIterator) Entries() (kcv.EntryList, error) {
	if it.err != nil {
		return nil, backendError(it.err)
	}
	if !it.valid {
		return nil, errors.New("iterator is not positioned on a key")
	}
	return it.entries, nil
}

func (it *keyIterator) Close() {
	it.valid = false
	it.entries = nil
}
