package main

import (
	"testing"

	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/stretchr/testify/assert"
)

func TestFormatColumn(t *testing.T) {
	assert.Equal(t, "7", formatColumn(kcv.IntBuffer(7)))
	assert.Equal(t, "0102", formatColumn(kcv.NewStaticBuffer([]byte{1, 2})))
	assert.Equal(t, "", formatColumn(kcv.StaticBuffer{}))
	assert.Equal(t, "0000000102", formatColumn(kcv.NewStaticBuffer([]byte{0, 0, 0, 1, 2})))
}
