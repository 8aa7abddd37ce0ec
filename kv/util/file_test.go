package util

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHelpers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))

	data := []byte("column data")
	for _, name := range []string{"edges_1", "edges_0", "vertices_0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	names, err := ListFilesWithPrefix(dir, "edges_")
	require.NoError(t, err)
	assert.Equal(t, []string{"edges_0", "edges_1"}, names)

	path := filepath.Join(dir, "edges_0")
	assert.True(t, FileExists(path))
	size, err := GetFileSize(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)
	sum, err := CalcCRC32(path)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(data), sum)

	deleted, err := DeleteFileIfExists(path)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = DeleteFileIfExists(path)
	require.NoError(t, err)
	assert.False(t, deleted)
}
