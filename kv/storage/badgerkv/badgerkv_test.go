package badgerkv

import (
	"path/filepath"
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	. "github.com/pingcap-incubator/tinykcv/kv/kcv/kcvtest"
	"github.com/pingcap-incubator/tinykcv/kv/storage/orderedkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerConformance(t *testing.T) {
	RunStoreTests(t, func(t *testing.T) kcv.StoreManager {
		m, err := NewStoreManager(t.TempDir(), false)
		require.NoError(t, err)
		return m
	})
}

func TestNamespacesAreIsolated(t *testing.T) {
	engine, err := NewEngine(t.TempDir(), false)
	require.NoError(t, err)
	defer engine.Close()

	a, err := engine.OpenStore("a")
	require.NoError(t, err)
	ab, err := engine.OpenStore("a_b")
	require.NoError(t, err)

	wb := new(orderedkv.WriteBatch)
	wb.Set([]byte("k"), []byte("from-a"))
	require.NoError(t, a.Write(wb))

	_, found, err := ab.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found)

	var keys []string
	require.NoError(t, ab.Scan(nil, nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Empty(t, keys)

	val, found, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("from-a"), val)
}

func TestDataSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kcv")
	m, err := NewStoreManager(dir, true)
	require.NoError(t, err)
	s, err := m.OpenDatabase("edgestore")
	require.NoError(t, err)
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	require.NoError(t, s.Mutate(Val("k"), []kcv.Entry{E(1, "v")}, nil, txh))
	require.NoError(t, m.Close())

	m, err = NewStoreManager(dir, true)
	require.NoError(t, err)
	defer m.Close()
	s, err = m.OpenDatabase("edgestore")
	require.NoError(t, err)
	got, err := s.GetSlice(kcv.NewKeySliceQuery(Val("k"), Slice(0, 10)), txh)
	require.NoError(t, err)
	assert.Equal(t, kcv.EntryList{E(1, "v")}, got)
	assert.True(t, m.Features().Persists)
}
