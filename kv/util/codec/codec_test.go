package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBytesKeepsOrder(t *testing.T) {
	keys := [][]byte{{}, {0}, {1, 2, 3}, {1, 2, 3, 0}, {1, 2, 3, 4, 5, 6, 7, 8}, {1, 2, 3, 4, 5, 6, 7, 8, 9}, {0xff}}
	for i := 1; i < len(keys); i++ {
		assert.Equal(t, -1, bytes.Compare(EncodeBytes(keys[i-1]), EncodeBytes(keys[i])), "%v < %v", keys[i-1], keys[i])
	}
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}, EncodeBytes([]byte{1, 2, 3}))
}

func TestKeyColumnRoundTrip(t *testing.T) {
	composite := EncodeKeyColumn([]byte("vertex-1"), []byte{0, 7})
	key, col, err := DecodeKeyColumn(composite)
	require.NoError(t, err)
	assert.Equal(t, []byte("vertex-1"), key)
	assert.Equal(t, []byte{0, 7}, col)
	assert.True(t, bytes.HasPrefix(composite, KeyPrefix([]byte("vertex-1"))))

	// A key that extends another never lands inside the shorter key's column range.
	longer := EncodeKeyColumn([]byte("vertex-10"), nil)
	assert.False(t, bytes.HasPrefix(longer, KeyPrefix([]byte("vertex-1"))))

	_, _, err = DecodeKeyColumn([]byte{1, 2})
	assert.Error(t, err)
}

func TestPrefixNext(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, PrefixNext([]byte{1, 2}))
	assert.Equal(t, []byte{2}, PrefixNext([]byte{1, 0xff}))
	assert.Nil(t, PrefixNext([]byte{0xff}))
}
