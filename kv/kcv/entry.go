package kcv

import "sort"

// Entry is a column/value pair stored under a key. Entries are ordered by column only; TTL is metadata and takes
// no part in ordering.
type Entry struct {
	Column StaticBuffer
	Value  StaticBuffer
	// TTL in seconds, 0 means the entry never expires. Only honoured by backends whose features report TTL support.
	TTL uint32
}

func NewEntry(column, value StaticBuffer) Entry {
	return Entry{Column: column, Value: value}
}

func (e Entry) Compare(o Entry) int {
	return e.Column.Compare(o.Column)
}

// ByteSize is the number of payload bytes held by the entry.
func (e Entry) ByteSize() int {
	return e.Column.Len() + e.Value.Len()
}

// EntryList is a list of entries sorted by column, as returned by slice reads.
type EntryList []Entry

// EmptyEntryList is returned by reads that match nothing; it is never nil.
var EmptyEntryList = EntryList{}

func (l EntryList) Columns() []StaticBuffer {
	cols := make([]StaticBuffer, len(l))
	for i, e := range l {
		cols[i] = e.Column
	}
	return cols
}

func (l EntryList) ByteSize() int {
	size := 0
	for _, e := range l {
		size += e.ByteSize()
	}
	return size
}

// SortEntries sorts entries by column, keeping the arrival order of equal columns.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Column.Less(entries[j].Column)
	})
}

// SortBuffers sorts buffers ascending.
func SortBuffers(bufs []StaticBuffer) {
	sort.Slice(bufs, func(i, j int) bool {
		return bufs[i].Less(bufs[j])
	})
}
