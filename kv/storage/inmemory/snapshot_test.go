package inmemory

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	. "github.com/pingcap-incubator/tinykcv/kv/kcv/kcvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpAndRestore(t *testing.T) {
	dir := t.TempDir()
	m := NewStoreManager()
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	edges, err := m.OpenDatabase("edgestore")
	require.NoError(t, err)
	index, err := m.OpenDatabase("graphindex")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		key := Val(fmt.Sprintf("v%03d", i))
		require.NoError(t, edges.Mutate(key, []kcv.Entry{E(1, "out"), E(2, fmt.Sprint(i))}, nil, txh))
	}
	require.NoError(t, index.Mutate(Val("name"), []kcv.Entry{{Column: Col(1), Value: Val("v001"), TTL: 60}}, nil, txh))
	// an emptied key is not dumped
	require.NoError(t, edges.Mutate(Val("v010"), nil, []kcv.StaticBuffer{Col(1), Col(2)}, txh))

	require.NoError(t, m.DumpTo(dir, 4))
	assert.FileExists(t, filepath.Join(dir, "edgestore_3"))
	assert.FileExists(t, filepath.Join(dir, "graphindex.manifest"))

	restored := NewStoreManager()
	require.NoError(t, restored.RestoreFrom(dir))
	assert.Equal(t, []string{"edgestore", "graphindex"}, restored.StoreNames())

	redges, err := restored.OpenDatabase("edgestore")
	require.NoError(t, err)
	it, err := redges.GetKeys(Slice(0, 10), txh)
	require.NoError(t, err)
	assert.Len(t, kcv.CollectKeys(it), 49)
	got, err := redges.GetSlice(kcv.NewKeySliceQuery(Val("v042"), Slice(0, 10)), txh)
	require.NoError(t, err)
	assert.Equal(t, kcv.EntryList{E(1, "out"), E(2, "42")}, got)

	rindex, err := restored.OpenDatabase("graphindex")
	require.NoError(t, err)
	got, err = rindex.GetSlice(kcv.NewKeySliceQuery(Val("name"), Slice(0, 10)), txh)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(60), got[0].TTL)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s := NewStore("edgestore")
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	require.NoError(t, s.Mutate(Val("k"), []kcv.Entry{E(1, "v")}, nil, txh))
	require.NoError(t, s.DumpTo(dir, 1))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "edgestore_0"), []byte("garbage"), 0644))
	target := NewStore("edgestore")
	assert.Error(t, target.ReadFrom(dir))
	assert.Error(t, NewStore("missing").ReadFrom(dir))
}

func TestRedumpRemovesStaleChunks(t *testing.T) {
	dir := t.TempDir()
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	s := NewStore("edgestore")
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Mutate(Val(fmt.Sprint(i)), []kcv.Entry{E(1, "v")}, nil, txh))
	}
	other := NewStore("edgestore_x")
	require.NoError(t, other.Mutate(Val("k"), []kcv.Entry{E(1, "v")}, nil, txh))
	require.NoError(t, other.DumpTo(dir, 1))

	require.NoError(t, s.DumpTo(dir, 4))
	assert.FileExists(t, filepath.Join(dir, "edgestore_3"))
	require.NoError(t, s.DumpTo(dir, 2))
	assert.NoFileExists(t, filepath.Join(dir, "edgestore_3"))
	assert.FileExists(t, filepath.Join(dir, "edgestore_x_0"))

	target := NewStore("edgestore")
	require.NoError(t, target.ReadFrom(dir))
	it, err := target.GetKeys(Slice(0, 10), txh)
	require.NoError(t, err)
	assert.Len(t, kcv.CollectKeys(it), 8)
}

func TestDumpRateIsBounded(t *testing.T) {
	const rate = 16 * 1024
	dir := t.TempDir()
	m := NewStoreManager()
	m.SetDumpRate(rate)
	txh := kcv.NewBaseTransaction(kcv.DefaultTxConfig())
	s, err := m.OpenDatabase("edgestore")
	require.NoError(t, err)
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 32; i++ {
		v := make([]byte, 1024)
		rnd.Read(v)
		e := kcv.NewEntry(Col(1), kcv.NewStaticBuffer(v))
		require.NoError(t, s.Mutate(Val(fmt.Sprintf("k%03d", i)), []kcv.Entry{e}, nil, txh))
	}

	start := time.Now()
	require.NoError(t, m.DumpTo(dir, 2))
	elapsed := time.Since(start)
	var size int64
	for i := 0; i < 2; i++ {
		st, err := os.Stat(filepath.Join(dir, chunkFileName("edgestore", i)))
		require.NoError(t, err)
		size += st.Size()
	}
	// The bucket starts with one second worth of bytes.
	require.Greater(t, size, int64(rate))
	minimum := time.Duration(float64(size-rate) / rate * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minimum*9/10)

	restored := NewStoreManager()
	require.NoError(t, restored.RestoreFrom(dir))
	rs, err := restored.OpenDatabase("edgestore")
	require.NoError(t, err)
	it, err := rs.GetKeys(Slice(0, 10), txh)
	require.NoError(t, err)
	assert.Len(t, kcv.CollectKeys(it), 32)
}
