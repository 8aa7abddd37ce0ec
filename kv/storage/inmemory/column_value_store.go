package inmemory

import (
	"sort"

	"github.com/coocood/badger/y"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"go.uber.org/atomic"
)

// shrinkRatio is the fill ratio below which a mutated array is reallocated to its exact size.
const shrinkRatio = 0.66

// columnArray is an immutable snapshot of one key's columns. entries[:size] is strictly increasing by column; the
// backing array may be larger to absorb later growth.
type columnArray struct {
	entries []kcv.Entry
	size    int
}

var emptyColumns = &columnArray{}

func (a *columnArray) live() []kcv.Entry {
	return a.entries[:a.size]
}

// search returns the index of column, or the insertion index when it is absent.
func (a *columnArray) search(column kcv.StaticBuffer) (int, bool) {
	live := a.live()
	i := sort.Search(len(live), func(i int) bool {
		return live[i].Column.Compare(column) >= 0
	})
	return i, i < len(live) && live[i].Column == column
}

// ColumnValueStore holds the columns of a single key. Readers load the current snapshot without locking; writers
// build a complete new snapshot and publish it with one pointer swap.
type ColumnValueStore struct {
	current atomic.Pointer[columnArray]
}

func NewColumnValueStore() *ColumnValueStore {
	s := &ColumnValueStore{}
	s.current.Store(emptyColumns)
	return s
}

func (s *ColumnValueStore) snapshot() *columnArray {
	return s.current.Load()
}

func (s *ColumnValueStore) IsEmpty() bool {
	return s.snapshot().size == 0
}

func (s *ColumnValueStore) Size() int {
	return s.snapshot().size
}

// Capacity is the length of the current backing array.
func (s *ColumnValueStore) Capacity() int {
	return len(s.snapshot().entries)
}

func (s *ColumnValueStore) Get(column kcv.StaticBuffer) (kcv.StaticBuffer, bool) {
	a := s.snapshot()
	i, ok := a.search(column)
	if !ok {
		return kcv.StaticBuffer{}, false
	}
	return a.entries[i].Value, true
}

// GetSlice returns the columns in [query.Start, query.End), at most query.Limit of them.
func (s *ColumnValueStore) GetSlice(query kcv.SliceQuery) kcv.EntryList {
	if query.IsEmpty() {
		return kcv.EmptyEntryList
	}
	a := s.snapshot()
	start, _ := a.search(query.Start)
	end, _ := a.search(query.End)
	if start >= end {
		return kcv.EmptyEntryList
	}
	n := end - start
	if query.HasLimit() && n > query.Limit {
		n = query.Limit
	}
	// Buffers are immutable, so copying the entry structs is enough to detach the result from the snapshot.
	result := make(kcv.EntryList, n)
	copy(result, a.entries[start:start+n])
	return result
}

// Entries returns every column of the key.
func (s *ColumnValueStore) Entries() kcv.EntryList {
	a := s.snapshot()
	result := make(kcv.EntryList, a.size)
	copy(result, a.live())
	return result
}

func (s *ColumnValueStore) ByteSize() int {
	return kcv.EntryList(s.snapshot().live()).ByteSize()
}

// Mutate applies the additions and deletions and publishes the result atomically. A column present in both lists
// is added. Concurrent writers never lose each other's changes: a writer whose base snapshot was replaced while it
// merged starts over from the new one.
func (s *ColumnValueStore) Mutate(additions []kcv.Entry, deletions []kcv.StaticBuffer) {
	adds, dels := prepareMutation(additions, deletions)
	if len(adds) == 0 && len(dels) == 0 {
		return
	}
	for {
		old := s.snapshot()
		next := mergeColumns(old, adds, dels)
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// prepareMutation sorts both lists, keeps the last addition per column and drops duplicate deletions and
// deletions of added columns.
func prepareMutation(additions []kcv.Entry, deletions []kcv.StaticBuffer) ([]kcv.Entry, []kcv.StaticBuffer) {
	adds := make([]kcv.Entry, len(additions))
	copy(adds, additions)
	kcv.SortEntries(adds)
	uniq := adds[:0]
	for i, e := range adds {
		if i+1 < len(adds) && adds[i+1].Column == e.Column {
			continue
		}
		uniq = append(uniq, e)
	}
	adds = uniq

	dels := make([]kcv.StaticBuffer, len(deletions))
	copy(dels, deletions)
	kcv.SortBuffers(dels)
	kept := dels[:0]
	a := 0
	for i, col := range dels {
		if i > 0 && dels[i-1] == col {
			continue
		}
		for a < len(adds) && adds[a].Column.Less(col) {
			a++
		}
		if a < len(adds) && adds[a].Column == col {
			continue
		}
		kept = append(kept, col)
	}
	return adds, kept
}

// mergeColumns merges sorted, consolidated additions and deletions into old and returns the new snapshot.
func mergeColumns(old *columnArray, adds []kcv.Entry, dels []kcv.StaticBuffer) *columnArray {
	live := old.live()
	capacity := len(live) + len(adds)
	if capacity < len(old.entries) {
		capacity = len(old.entries)
	}
	out := make([]kcv.Entry, 0, capacity)
	emit := func(e kcv.Entry) {
		if n := len(out); n > 0 {
			y.AssertTruef(out[n-1].Column.Less(e.Column), "column %s emitted after %s", e.Column, out[n-1].Column)
		}
		out = append(out, e)
	}

	i, a, d := 0, 0, 0
	for i < len(live) || a < len(adds) {
		if a < len(adds) && (i >= len(live) || adds[a].Column.Compare(live[i].Column) <= 0) {
			// An addition equal to the old column replaces it; a smaller one is inserted and the old entry is
			// examined again on the next round.
			if i < len(live) && adds[a].Column == live[i].Column {
				i++
			}
			emit(adds[a])
			a++
			continue
		}
		e := live[i]
		i++
		for d < len(dels) && dels[d].Less(e.Column) {
			d++
		}
		if d < len(dels) && dels[d] == e.Column {
			d++
			continue
		}
		emit(e)
	}

	size := len(out)
	if float64(size) < shrinkRatio*float64(cap(out)) {
		tight := make([]kcv.Entry, size)
		copy(tight, out)
		out = tight
	}
	return &columnArray{entries: out[:cap(out)], size: size}
}
