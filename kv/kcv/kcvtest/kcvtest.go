// Package kcvtest holds the behaviour every kcv.StoreManager implementation must show. Backends run it from their
// own tests with a factory that opens a fresh, empty manager.
package kcvtest

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty manager. The suite closes it.
type Factory func(t *testing.T) kcv.StoreManager

func RunStoreTests(t *testing.T, factory Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, m kcv.StoreManager)
	}{
		{"Scenarios", testScenarios},
		{"SliceBounds", testSliceBounds},
		{"MatchesModel", testMatchesModel},
		{"MutateIdempotent", testMutateIdempotent},
		{"ContainsKey", testContainsKey},
		{"GetSlices", testGetSlices},
		{"GetKeys", testGetKeys},
		{"GetKeyRange", testGetKeyRange},
		{"ConcurrentDisjointWriters", testConcurrentDisjointWriters},
		{"KeyConsistentWriters", testKeyConsistentWriters},
		{"MutateMany", testMutateMany},
		{"OpenIsIdempotent", testOpenIsIdempotent},
		{"ClearAndExists", testClearAndExists},
		{"AcquireLock", testAcquireLock},
		{"EmptyValues", testEmptyValues},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			m := factory(t)
			defer m.Close()
			c.fn(t, m)
		})
	}
}

func Col(i int) kcv.StaticBuffer {
	return kcv.IntBuffer(i)
}

func Val(s string) kcv.StaticBuffer {
	return kcv.StringBuffer(s)
}

func E(col int, val string) kcv.Entry {
	return kcv.NewEntry(Col(col), Val(val))
}

func Slice(start, end int) kcv.SliceQuery {
	return kcv.NewSliceQuery(Col(start), Col(end))
}

func openStore(t *testing.T, m kcv.StoreManager, name string) kcv.Store {
	s, err := m.OpenDatabase(name)
	require.NoError(t, err)
	return s
}

func begin(t *testing.T, m kcv.StoreManager, level kcv.ConsistencyLevel) kcv.StoreTransaction {
	txh, err := m.BeginTransaction(kcv.TxConfig{Consistency: level})
	require.NoError(t, err)
	return txh
}

func getSlice(t *testing.T, s kcv.Store, key kcv.StaticBuffer, q kcv.SliceQuery, txh kcv.StoreTransaction) kcv.EntryList {
	entries, err := s.GetSlice(kcv.NewKeySliceQuery(key, q), txh)
	require.NoError(t, err)
	require.NotNil(t, entries)
	return entries
}

func testScenarios(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	k := Val("K")

	require.NoError(t, s.Mutate(k, []kcv.Entry{E(1, "A"), E(3, "B")}, nil, txh))
	assert.Equal(t, kcv.EntryList{E(1, "A"), E(3, "B")}, getSlice(t, s, k, Slice(0, 10), txh))

	require.NoError(t, s.Mutate(k, []kcv.Entry{E(2, "C")}, []kcv.StaticBuffer{Col(1)}, txh))
	assert.Equal(t, kcv.EntryList{E(2, "C"), E(3, "B")}, getSlice(t, s, k, Slice(0, 10), txh))

	require.NoError(t, s.Mutate(k, []kcv.Entry{E(5, "D")}, []kcv.StaticBuffer{Col(5)}, txh))
	assert.Equal(t, kcv.EntryList{E(2, "C"), E(3, "B"), E(5, "D")}, getSlice(t, s, k, Slice(0, 10), txh))

	assert.Empty(t, getSlice(t, s, k, Slice(3, 3), txh))
}

func testSliceBounds(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	k := Val("row")
	var adds []kcv.Entry
	for i := 0; i < 20; i += 2 {
		adds = append(adds, E(i, fmt.Sprint(i)))
	}
	require.NoError(t, s.Mutate(k, adds, nil, txh))

	assert.Equal(t, kcv.EntryList{E(4, "4"), E(6, "6")}, getSlice(t, s, k, Slice(4, 8), txh))
	assert.Equal(t, kcv.EntryList{E(4, "4"), E(6, "6")}, getSlice(t, s, k, Slice(3, 7), txh))
	assert.Equal(t, kcv.EntryList{E(0, "0"), E(2, "2"), E(4, "4")}, getSlice(t, s, k, Slice(0, 100).WithLimit(3), txh))
	assert.Len(t, getSlice(t, s, k, Slice(0, 100), txh), 10)
	assert.Empty(t, getSlice(t, s, k, Slice(50, 100), txh))
	assert.Empty(t, getSlice(t, s, Val("missing"), Slice(0, 100), txh))

	_, err := s.GetSlice(kcv.NewKeySliceQuery(k, Slice(8, 4)), txh)
	assert.Equal(t, kcv.ErrInvalidArgument, errors.Cause(err))
}

// testMatchesModel runs random mutations against a map and checks full slices after each step.
func testMatchesModel(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "model")
	txh := begin(t, m, kcv.ConsistencyDefault)
	rnd := rand.New(rand.NewSource(42))
	keys := []kcv.StaticBuffer{Val("a"), Val("b"), Val("c")}
	model := make(map[kcv.StaticBuffer]map[int]string)

	for step := 0; step < 200; step++ {
		key := keys[rnd.Intn(len(keys))]
		var adds []kcv.Entry
		var dels []kcv.StaticBuffer
		for i := rnd.Intn(6); i > 0; i-- {
			adds = append(adds, E(rnd.Intn(30), fmt.Sprintf("v%d", step)))
		}
		for i := rnd.Intn(6); i > 0; i-- {
			dels = append(dels, Col(rnd.Intn(30)))
		}
		require.NoError(t, s.Mutate(key, adds, dels, txh))

		row := model[key]
		if row == nil {
			row = make(map[int]string)
			model[key] = row
		}
		for _, d := range dels {
			delete(row, int(d.Uint32At(0)))
		}
		for _, a := range adds {
			row[int(a.Column.Uint32At(0))] = a.Value.Raw()
		}

		var want kcv.EntryList
		for c := 0; c < 30; c++ {
			if v, ok := row[c]; ok {
				want = append(want, E(c, v))
			}
		}
		got := getSlice(t, s, key, Slice(0, 30), txh)
		if len(want) == 0 {
			require.Empty(t, got, "step %d", step)
		} else {
			require.Equal(t, want, got, "step %d", step)
		}
		for i := 1; i < len(got); i++ {
			require.True(t, got[i-1].Column.Less(got[i].Column))
		}
	}
}

func testMutateIdempotent(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	k := Val("K")
	require.NoError(t, s.Mutate(k, []kcv.Entry{E(1, "a"), E(2, "b"), E(4, "d")}, nil, txh))

	adds := []kcv.Entry{E(3, "c"), E(4, "e")}
	dels := []kcv.StaticBuffer{Col(1)}
	require.NoError(t, s.Mutate(k, adds, dels, txh))
	once := getSlice(t, s, k, Slice(0, 10), txh)
	require.NoError(t, s.Mutate(k, adds, dels, txh))
	assert.Equal(t, once, getSlice(t, s, k, Slice(0, 10), txh))
	assert.Equal(t, kcv.EntryList{E(2, "b"), E(3, "c"), E(4, "e")}, once)
}

func testContainsKey(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	k := Val("K")

	ok, err := s.ContainsKey(k, txh)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Mutate(k, []kcv.Entry{E(1, "a")}, nil, txh))
	ok, err = s.ContainsKey(k, txh)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Mutate(k, nil, []kcv.StaticBuffer{Col(1)}, txh))
	ok, err = s.ContainsKey(k, txh)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting from an unknown key is a no-op.
	require.NoError(t, s.Mutate(Val("nothing"), nil, []kcv.StaticBuffer{Col(1)}, txh))
}

func testGetSlices(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	require.NoError(t, s.Mutate(Val("a"), []kcv.Entry{E(1, "a1"), E(2, "a2")}, nil, txh))
	require.NoError(t, s.Mutate(Val("b"), []kcv.Entry{E(2, "b2")}, nil, txh))

	res, err := s.GetSlices([]kcv.StaticBuffer{Val("a"), Val("b"), Val("c")}, Slice(2, 5), txh)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, kcv.EntryList{E(2, "a2")}, res[Val("a")])
	assert.Equal(t, kcv.EntryList{E(2, "b2")}, res[Val("b")])
	assert.Empty(t, res[Val("c")])
}

func loadKeys(t *testing.T, s kcv.Store, txh kcv.StoreTransaction, keys ...string) {
	for i, k := range keys {
		require.NoError(t, s.Mutate(Val(k), []kcv.Entry{E(i%3, k)}, nil, txh))
	}
}

func testGetKeys(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	loadKeys(t, s, txh, "d", "a", "c", "b")
	require.NoError(t, s.Mutate(Val("c"), nil, []kcv.StaticBuffer{Col(2)}, txh))

	it, err := s.GetKeys(Slice(0, 10), txh)
	require.NoError(t, err)
	assert.Equal(t, []kcv.StaticBuffer{Val("a"), Val("b"), Val("d")}, kcv.CollectKeys(it))

	// Only keys with a column inside the slice are returned.
	it, err = s.GetKeys(Slice(1, 2), txh)
	require.NoError(t, err)
	require.True(t, it.Valid())
	assert.Equal(t, Val("a"), it.Key())
	entries, err := it.Entries()
	require.NoError(t, err)
	assert.Equal(t, kcv.EntryList{E(1, "a")}, entries)
	it.Next()
	assert.False(t, it.Valid())
	it.Close()

	_, err = s.GetKeys(Slice(0, 10), begin(t, m, kcv.ConsistencyKeyConsistent))
	assert.Equal(t, kcv.ErrInconsistentLevel, errors.Cause(err))
	assert.False(t, kcv.IsTemporary(err))
}

func testGetKeyRange(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	loadKeys(t, s, txh, "a", "b", "c", "d", "e")

	it, err := s.GetKeyRange(kcv.NewKeyRangeQuery(Val("b"), Val("d"), Slice(0, 10)), txh)
	require.NoError(t, err)
	assert.Equal(t, []kcv.StaticBuffer{Val("b"), Val("c")}, kcv.CollectKeys(it))

	it, err = s.GetKeyRange(kcv.NewKeyRangeQuery(Val("d"), kcv.StaticBuffer{}, Slice(0, 10)), txh)
	require.NoError(t, err)
	assert.Equal(t, []kcv.StaticBuffer{Val("d"), Val("e")}, kcv.CollectKeys(it))

	_, err = s.GetKeyRange(kcv.NewKeyRangeQuery(Val("a"), Val("z"), Slice(0, 10)), begin(t, m, kcv.ConsistencyLocalKeyConsistent))
	assert.Equal(t, kcv.ErrInconsistentLevel, errors.Cause(err))
}

func testConcurrentDisjointWriters(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	k := Val("fresh")
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			txh, err := m.BeginTransaction(kcv.TxConfig{Consistency: kcv.ConsistencyDefault})
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, s.Mutate(k, []kcv.Entry{E(w*perWriter+i, "x")}, nil, txh))
			}
			assert.NoError(t, txh.Commit())
		}(w)
	}
	wg.Wait()

	got := getSlice(t, s, k, Slice(0, writers*perWriter), begin(t, m, kcv.ConsistencyDefault))
	assert.Len(t, got, writers*perWriter)
}

func testKeyConsistentWriters(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	k := Val("contended")
	const writers, columns = 8, 16

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			txh, err := m.BeginTransaction(kcv.TxConfig{Consistency: kcv.ConsistencyKeyConsistent})
			if !assert.NoError(t, err) {
				return
			}
			adds := make([]kcv.Entry, columns)
			for c := range adds {
				adds[c] = E(c, fmt.Sprintf("writer-%d", w))
			}
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.Mutate(k, adds, nil, txh))
			}
		}(w)
	}
	wg.Wait()

	got := getSlice(t, s, k, Slice(0, columns), begin(t, m, kcv.ConsistencyKeyConsistent))
	require.Len(t, got, columns)
	for _, e := range got {
		assert.Equal(t, got[0].Value, e.Value, "writes to one key interleaved")
	}
}

func testMutateMany(t *testing.T, m kcv.StoreManager) {
	txh := begin(t, m, kcv.ConsistencyDefault)
	err := m.MutateMany(map[string]map[kcv.StaticBuffer]*kcv.KCVMutation{
		"edgestore": {
			Val("a"): kcv.NewKCVMutation([]kcv.Entry{E(1, "a1")}, nil),
			Val("b"): kcv.NewKCVMutation([]kcv.Entry{E(1, "b1")}, nil),
		},
		"graphindex": {
			Val("a"): kcv.NewKCVMutation([]kcv.Entry{E(7, "i7")}, nil),
		},
	}, txh)
	require.NoError(t, err)

	edges := openStore(t, m, "edgestore")
	index := openStore(t, m, "graphindex")
	assert.Equal(t, kcv.EntryList{E(1, "b1")}, getSlice(t, edges, Val("b"), Slice(0, 10), txh))
	assert.Equal(t, kcv.EntryList{E(7, "i7")}, getSlice(t, index, Val("a"), Slice(0, 10), txh))
	assert.Empty(t, getSlice(t, index, Val("b"), Slice(0, 10), txh))

	require.NoError(t, m.MutateMany(map[string]map[kcv.StaticBuffer]*kcv.KCVMutation{
		"edgestore": {Val("a"): kcv.NewKCVMutation(nil, []kcv.StaticBuffer{Col(1)})},
	}, txh))
	assert.Empty(t, getSlice(t, edges, Val("a"), Slice(0, 10), txh))
	require.NoError(t, txh.Commit())
}

func testOpenIsIdempotent(t *testing.T, m kcv.StoreManager) {
	s1 := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	require.NoError(t, s1.Mutate(Val("k"), []kcv.Entry{E(1, "v")}, nil, txh))

	s2 := openStore(t, m, "edgestore")
	assert.Equal(t, "edgestore", s2.Name())
	assert.Equal(t, kcv.EntryList{E(1, "v")}, getSlice(t, s2, Val("k"), Slice(0, 10), txh))

	other := openStore(t, m, "other")
	assert.Empty(t, getSlice(t, other, Val("k"), Slice(0, 10), txh))
}

func testClearAndExists(t *testing.T, m kcv.StoreManager) {
	exists, err := m.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	require.NoError(t, s.Mutate(Val("k"), []kcv.Entry{E(1, "v")}, nil, txh))
	exists, err = m.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Clear())
	exists, err = m.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	s = openStore(t, m, "edgestore")
	assert.Empty(t, getSlice(t, s, Val("k"), Slice(0, 10), txh))
}

func testAcquireLock(t *testing.T, m kcv.StoreManager) {
	if m.Features().Locking {
		t.Skip("backend has native locking")
	}
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyKeyConsistent)
	err := s.AcquireLock(Val("k"), Col(1), nil, txh)
	assert.Equal(t, kcv.ErrUnsupported, errors.Cause(err))
	assert.False(t, kcv.IsTemporary(err))
}

func testEmptyValues(t *testing.T, m kcv.StoreManager) {
	s := openStore(t, m, "edgestore")
	txh := begin(t, m, kcv.ConsistencyDefault)
	k := Val("k")
	require.NoError(t, s.Mutate(k, []kcv.Entry{kcv.NewEntry(Col(1), kcv.StaticBuffer{})}, nil, txh))
	got := getSlice(t, s, k, Slice(0, 10), txh)
	require.Len(t, got, 1)
	assert.True(t, got[0].Value.IsEmpty())
}
