package kcv

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// StaticBuffer is an immutable byte string. Buffers are ordered lexicographically by unsigned byte value and are
// equal iff they hold identical bytes. A StaticBuffer is comparable, so it can be used directly as a map key.
//
// The zero value is the empty buffer, which sorts before every other buffer.
type StaticBuffer struct {
	data string
}

// NewStaticBuffer copies b into a new buffer; later changes to b are not observed.
func NewStaticBuffer(b []byte) StaticBuffer {
	return StaticBuffer{data: string(b)}
}

// StringBuffer returns a buffer holding the bytes of s.
func StringBuffer(s string) StaticBuffer {
	return StaticBuffer{data: s}
}

// IntBuffer encodes v as 4 big-endian bytes, so non-negative values sort numerically.
func IntBuffer(v int) StaticBuffer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return StaticBuffer{data: string(b[:])}
}

// Uint64Buffer encodes v as 8 big-endian bytes.
func Uint64Buffer(v uint64) StaticBuffer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return StaticBuffer{data: string(b[:])}
}

// Bytes returns a fresh copy of the buffer contents.
func (b StaticBuffer) Bytes() []byte {
	return []byte(b.data)
}

// AppendTo appends the buffer contents to dst.
func (b StaticBuffer) AppendTo(dst []byte) []byte {
	return append(dst, b.data...)
}

// Raw exposes the contents as a string. Strings are immutable, so this never aliases writable memory.
func (b StaticBuffer) Raw() string {
	return b.data
}

func (b StaticBuffer) Len() int {
	return len(b.data)
}

func (b StaticBuffer) IsEmpty() bool {
	return len(b.data) == 0
}

// Compare returns -1, 0 or 1 comparing b and o byte-wise.
func (b StaticBuffer) Compare(o StaticBuffer) int {
	return strings.Compare(b.data, o.data)
}

func (b StaticBuffer) Less(o StaticBuffer) bool {
	return b.data < o.data
}

func (b StaticBuffer) Equal(o StaticBuffer) bool {
	return b.data == o.data
}

func (b StaticBuffer) HasPrefix(prefix StaticBuffer) bool {
	return strings.HasPrefix(b.data, prefix.data)
}

// Uint32At decodes 4 big-endian bytes starting at offset.
func (b StaticBuffer) Uint32At(offset int) uint32 {
	return binary.BigEndian.Uint32([]byte(b.data[offset : offset+4]))
}

func (b StaticBuffer) String() string {
	return hex.EncodeToString([]byte(b.data))
}

// PrefixNext returns the smallest buffer greater than every buffer prefixed by b, which makes it the exclusive
// end of a prefix scan. An all-0xFF (or empty) prefix has no such bound and yields the empty buffer.
func PrefixNext(b StaticBuffer) StaticBuffer {
	buf := []byte(b.data)
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i]++
		if buf[i] != 0 {
			return StaticBuffer{data: string(buf[:i+1])}
		}
	}
	return StaticBuffer{}
}
