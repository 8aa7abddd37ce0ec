package kcv

// KeyIterator is a single-pass iterator over distinct keys, ascending for ordered backends.
// Close must be called once iteration is done.
type KeyIterator interface {
	Valid() bool
	Next()
	Key() StaticBuffer
	// Entries returns the current key's columns that match the iterator's slice.
	Entries() (EntryList, error)
	Close()
}

// CollectKeys drains and closes it.
func CollectKeys(it KeyIterator) []StaticBuffer {
	defer it.Close()
	var keys []StaticBuffer
	for ; it.Valid(); it.Next() {
		keys = append(keys, it.Key())
	}
	return keys
}

type emptyIterator struct{}

func (emptyIterator) Valid() bool                 { return false }
func (emptyIterator) Next()                       {}
func (emptyIterator) Key() StaticBuffer           { return StaticBuffer{} }
func (emptyIterator) Entries() (EntryList, error) { return EmptyEntryList, nil }
func (emptyIterator) Close()                      {}

// EmptyKeyIterator yields no keys.
func EmptyKeyIterator() KeyIterator {
	return emptyIterator{}
}
