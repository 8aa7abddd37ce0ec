package kcv

import "github.com/pingcap/errors"

// SliceQuery selects the columns in [Start, End) of a key, ascending. A Limit of 0 means unlimited.
type SliceQuery struct {
	Start StaticBuffer
	End   StaticBuffer
	Limit int
}

func NewSliceQuery(start, end StaticBuffer) SliceQuery {
	return SliceQuery{Start: start, End: end}
}

// WithLimit returns a copy of the query bounded to n entries.
func (q SliceQuery) WithLimit(n int) SliceQuery {
	q.Limit = n
	return q
}

func (q SliceQuery) HasLimit() bool {
	return q.Limit > 0
}

// IsEmpty reports whether the column range selects nothing.
func (q SliceQuery) IsEmpty() bool {
	return q.Start.Compare(q.End) >= 0
}

// Contains reports whether column lies in [Start, End).
func (q SliceQuery) Contains(column StaticBuffer) bool {
	return q.Start.Compare(column) <= 0 && column.Less(q.End)
}

// Validate rejects inverted ranges and negative limits.
func (q SliceQuery) Validate() error {
	if q.Start.Compare(q.End) > 0 {
		return NewPermanentError(errors.Annotatef(ErrInvalidArgument, "slice start %s is after end %s", q.Start, q.End))
	}
	if q.Limit < 0 {
		return NewPermanentError(errors.Annotatef(ErrInvalidArgument, "negative slice limit %d", q.Limit))
	}
	return nil
}

// Truncate applies the query limit to entries, which must already be sorted.
func (q SliceQuery) Truncate(entries EntryList) EntryList {
	if q.HasLimit() && len(entries) > q.Limit {
		return entries[:q.Limit]
	}
	return entries
}

// KeySliceQuery is a SliceQuery bound to one key. It is comparable and can be used as a cache key.
type KeySliceQuery struct {
	Key StaticBuffer
	SliceQuery
}

func NewKeySliceQuery(key StaticBuffer, query SliceQuery) KeySliceQuery {
	return KeySliceQuery{Key: key, SliceQuery: query}
}

// KeyRangeQuery selects keys in [KeyStart, KeyEnd) that hold at least one column matching the slice.
// An empty KeyEnd means the range is unbounded above.
type KeyRangeQuery struct {
	KeyStart StaticBuffer
	KeyEnd   StaticBuffer
	SliceQuery
}

func NewKeyRangeQuery(keyStart, keyEnd StaticBuffer, query SliceQuery) KeyRangeQuery {
	return KeyRangeQuery{KeyStart: keyStart, KeyEnd: keyEnd, SliceQuery: query}
}

// ContainsKey reports whether key lies in the key range.
func (q KeyRangeQuery) ContainsKey(key StaticBuffer) bool {
	if key.Less(q.KeyStart) {
		return false
	}
	return q.KeyEnd.IsEmpty() || key.Less(q.KeyEnd)
}

func (q KeyRangeQuery) Validate() error {
	if !q.KeyEnd.IsEmpty() && q.KeyStart.Compare(q.KeyEnd) > 0 {
		return NewPermanentError(errors.Annotatef(ErrInvalidArgument, "key range start %s is after end %s", q.KeyStart, q.KeyEnd))
	}
	return q.SliceQuery.Validate()
}

// KeyRange is a half-open range of keys, used to describe local key partitions.
type KeyRange struct {
	Start StaticBuffer
	End   StaticBuffer
}
