package kcv

// Store is a named key-column-value table: each key maps to columns ordered by Compare.
type Store interface {
	Name() string
	// ContainsKey reports whether key has at least one column.
	ContainsKey(key StaticBuffer, txh StoreTransaction) (bool, error)
	// GetSlice returns the entries of query.Key in [Start, End), ascending and truncated to Limit. It never
	// returns nil.
	GetSlice(query KeySliceQuery, txh StoreTransaction) (EntryList, error)
	// GetSlices runs query against each key. Every key is present in the result.
	GetSlices(keys []StaticBuffer, query SliceQuery, txh StoreTransaction) (map[StaticBuffer]EntryList, error)
	// Mutate applies additions and deletions to key atomically. A column in both lists is added.
	Mutate(key StaticBuffer, additions []Entry, deletions []StaticBuffer, txh StoreTransaction) error
	// AcquireLock asks the backend to lock (key, column) expecting its current value; a nil expectedValue
	// asserts the column is absent.
	AcquireLock(key, column StaticBuffer, expectedValue *StaticBuffer, txh StoreTransaction) error
	// GetKeys iterates all keys holding a column in query. Only allowed under the default consistency level.
	GetKeys(query SliceQuery, txh StoreTransaction) (KeyIterator, error)
	// GetKeyRange iterates keys in the key range holding a column in the slice. Same consistency rule as GetKeys.
	GetKeyRange(query KeyRangeQuery, txh StoreTransaction) (KeyIterator, error)
	// LocalKeyPartition lists the key ranges stored locally, for backends with LocalKeyPartition support.
	LocalKeyPartition() ([]KeyRange, error)
	// Close is idempotent.
	Close() error
}

// StoreManager opens stores on one backend and issues transactions against it.
type StoreManager interface {
	Name() string
	// OpenDatabase returns the store called name, creating it on first use. Opening twice returns the same store.
	OpenDatabase(name string) (Store, error)
	// MutateMany applies mutations grouped by store name then key.
	MutateMany(mutations map[string]map[StaticBuffer]*KCVMutation, txh StoreTransaction) error
	BeginTransaction(config TxConfig) (StoreTransaction, error)
	Features() StoreFeatures
	// Exists reports whether the backend holds any data.
	Exists() (bool, error)
	// Clear drops every store and its data.
	Clear() error
	Close() error
}

// MutationCount sums the mutations of a MutateMany argument.
func MutationCount(mutations map[string]map[StaticBuffer]*KCVMutation) int {
	n := 0
	for _, byKey := range mutations {
		for _, m := range byKey {
			n += m.TotalMutations()
		}
	}
	return n
}
