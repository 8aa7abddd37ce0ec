package inmemory

import (
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	. "github.com/pingcap-incubator/tinykcv/kv/kcv/kcvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnValueStoreGet(t *testing.T) {
	s := NewColumnValueStore()
	assert.True(t, s.IsEmpty())
	s.Mutate([]kcv.Entry{E(3, "c"), E(1, "a")}, nil)

	v, ok := s.Get(Col(1))
	require.True(t, ok)
	assert.Equal(t, Val("a"), v)
	_, ok = s.Get(Col(2))
	assert.False(t, ok)
	assert.Equal(t, 2, s.Size())
}

func TestColumnValueStoreSlice(t *testing.T) {
	s := NewColumnValueStore()
	s.Mutate([]kcv.Entry{E(1, "a"), E(3, "c"), E(5, "e"), E(7, "g")}, nil)

	assert.Equal(t, kcv.EntryList{E(3, "c"), E(5, "e")}, s.GetSlice(Slice(2, 7)))
	assert.Equal(t, kcv.EntryList{E(3, "c"), E(5, "e"), E(7, "g")}, s.GetSlice(Slice(3, 8)))
	assert.Equal(t, kcv.EntryList{E(1, "a")}, s.GetSlice(Slice(0, 100).WithLimit(1)))
	assert.Empty(t, s.GetSlice(Slice(5, 5)))
	assert.Empty(t, s.GetSlice(Slice(8, 100)))
	assert.NotNil(t, s.GetSlice(Slice(8, 100)))
}

func TestColumnValueStoreMerge(t *testing.T) {
	s := NewColumnValueStore()
	s.Mutate([]kcv.Entry{E(2, "b"), E(4, "d"), E(6, "f")}, nil)

	// insert before, between and after; overwrite one; delete one; delete a missing column
	s.Mutate(
		[]kcv.Entry{E(7, "g"), E(1, "a"), E(4, "D"), E(3, "c")},
		[]kcv.StaticBuffer{Col(6), Col(9)},
	)
	assert.Equal(t, kcv.EntryList{E(1, "a"), E(2, "b"), E(3, "c"), E(4, "D"), E(7, "g")}, s.Entries())

	// addition wins over a deletion of the same column, and the last addition of a column wins
	s.Mutate([]kcv.Entry{E(8, "x"), E(8, "y")}, []kcv.StaticBuffer{Col(8), Col(1), Col(1)})
	assert.Equal(t, kcv.EntryList{E(2, "b"), E(3, "c"), E(4, "D"), E(7, "g"), E(8, "y")}, s.Entries())
}

func TestColumnValueStoreSnapshotIsolation(t *testing.T) {
	s := NewColumnValueStore()
	s.Mutate([]kcv.Entry{E(1, "a"), E(2, "b")}, nil)
	before := s.snapshot()

	s.Mutate([]kcv.Entry{E(3, "c")}, []kcv.StaticBuffer{Col(1)})
	assert.Equal(t, []kcv.Entry{E(1, "a"), E(2, "b")}, before.live())
	assert.Equal(t, kcv.EntryList{E(2, "b"), E(3, "c")}, s.Entries())

	slice := s.GetSlice(Slice(0, 10))
	slice[0] = E(9, "z")
	assert.Equal(t, kcv.EntryList{E(2, "b"), E(3, "c")}, s.Entries())
}

func TestColumnValueStoreShrinks(t *testing.T) {
	s := NewColumnValueStore()
	var adds []kcv.Entry
	for i := 0; i < 100; i++ {
		adds = append(adds, E(i, "v"))
	}
	s.Mutate(adds, nil)
	assert.Equal(t, 100, s.Capacity())

	// 70 of 100 slots used stays above the shrink ratio
	var dels []kcv.StaticBuffer
	for i := 0; i < 30; i++ {
		dels = append(dels, Col(i))
	}
	s.Mutate(nil, dels)
	assert.Equal(t, 70, s.Size())
	assert.Equal(t, 100, s.Capacity())

	// 60 of 100 is below it
	dels = dels[:0]
	for i := 30; i < 40; i++ {
		dels = append(dels, Col(i))
	}
	s.Mutate(nil, dels)
	assert.Equal(t, 60, s.Size())
	assert.Equal(t, 60, s.Capacity())
	assert.Equal(t, kcv.EntryList{E(40, "v"), E(41, "v")}, s.GetSlice(Slice(0, 42)))
}

func TestPrepareMutation(t *testing.T) {
	adds, dels := prepareMutation(
		[]kcv.Entry{E(5, "1"), E(2, "x"), E(5, "2")},
		[]kcv.StaticBuffer{Col(5), Col(3), Col(3), Col(1)},
	)
	assert.Equal(t, []kcv.Entry{E(2, "x"), E(5, "2")}, adds)
	assert.Equal(t, []kcv.StaticBuffer{Col(1), Col(3)}, dels)
}
