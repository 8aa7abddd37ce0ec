package kcv

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
)

func TestSliceQueryBounds(t *testing.T) {
	q := NewSliceQuery(IntBuffer(2), IntBuffer(5))
	assert.False(t, q.Contains(IntBuffer(1)))
	assert.True(t, q.Contains(IntBuffer(2)))
	assert.True(t, q.Contains(IntBuffer(4)))
	assert.False(t, q.Contains(IntBuffer(5)))
	assert.False(t, q.IsEmpty())
	assert.True(t, NewSliceQuery(IntBuffer(3), IntBuffer(3)).IsEmpty())
	assert.NoError(t, q.Validate())

	err := NewSliceQuery(IntBuffer(5), IntBuffer(2)).Validate()
	assert.Equal(t, ErrInvalidArgument, errors.Cause(err))
	assert.False(t, IsTemporary(err))
	assert.Error(t, q.WithLimit(-1).Validate())
}

func TestSliceQueryTruncate(t *testing.T) {
	entries := EntryList{
		NewEntry(IntBuffer(1), StaticBuffer{}),
		NewEntry(IntBuffer(2), StaticBuffer{}),
		NewEntry(IntBuffer(3), StaticBuffer{}),
	}
	q := NewSliceQuery(IntBuffer(0), IntBuffer(10))
	assert.Len(t, q.Truncate(entries), 3)
	assert.Len(t, q.WithLimit(2).Truncate(entries), 2)
	assert.Len(t, q.WithLimit(5).Truncate(entries), 3)
}

func TestKeySliceQueryIsComparable(t *testing.T) {
	q := NewSliceQuery(IntBuffer(0), IntBuffer(10))
	m := map[KeySliceQuery]int{NewKeySliceQuery(StringBuffer("k"), q): 1}
	assert.Equal(t, 1, m[NewKeySliceQuery(StringBuffer("k"), q)])
	_, ok := m[NewKeySliceQuery(StringBuffer("k"), q.WithLimit(1))]
	assert.False(t, ok)
}

func TestKeyRangeQuery(t *testing.T) {
	q := NewKeyRangeQuery(StringBuffer("b"), StringBuffer("d"), NewSliceQuery(StaticBuffer{}, IntBuffer(1)))
	assert.False(t, q.ContainsKey(StringBuffer("a")))
	assert.True(t, q.ContainsKey(StringBuffer("b")))
	assert.False(t, q.ContainsKey(StringBuffer("d")))

	open := NewKeyRangeQuery(StringBuffer("b"), StaticBuffer{}, q.SliceQuery)
	assert.True(t, open.ContainsKey(StringBuffer("zzz")))
	assert.NoError(t, open.Validate())
	assert.Error(t, NewKeyRangeQuery(StringBuffer("d"), StringBuffer("b"), q.SliceQuery).Validate())
}
