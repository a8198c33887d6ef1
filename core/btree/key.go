// Package btree implements a latch-crabbing concurrent B+Tree index over
// the buffer pool, grounded on BusTub's storage/index/b_plus_tree.cpp
// descent protocol and a length-prefixed node-serialization idiom.
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/rmehta/stratadb/core/storage"
)

// maxGenericKeySize is the largest width supported by GenericKey (4, 8,
// 16, 32, or 64 bytes are all valid choices).
const maxGenericKeySize = 64

// GenericKey is a fixed-width, byte-comparable index key. Its width is
// chosen per index at creation time rather than at compile
// time, since Go generics do not support integer type parameters; all
// widths share one representation backed by a 64-byte array.
type GenericKey struct {
	data [maxGenericKeySize]byte
	size int
}

// NewGenericKey returns a zeroed key of the given width.
func NewGenericKey(size int) GenericKey {
	if size <= 0 || size > maxGenericKeySize {
		size = maxGenericKeySize
	}
	return GenericKey{size: size}
}

// SetFromInt64 encodes v big-endian into the key's low-order bytes, so
// that byte-wise comparison of two keys matches integer comparison of
// the values they encode.
func (k *GenericKey) SetFromInt64(v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)+(1<<63))
	n := k.size
	if n > 8 {
		n = 8
	}
	start := 8 - n
	copy(k.data[k.size-n:k.size], buf[start:])
}

// ToInt64 decodes the bytes written by SetFromInt64.
func (k GenericKey) ToInt64() int64 {
	var buf [8]byte
	n := k.size
	if n > 8 {
		n = 8
	}
	copy(buf[8-n:], k.data[k.size-n:k.size])
	return int64(binary.BigEndian.Uint64(buf[:]) - (1 << 63))
}

// SetBytes copies raw into the key, truncating or zero-padding to size.
func (k *GenericKey) SetBytes(raw []byte) {
	for i := range k.data {
		k.data[i] = 0
	}
	n := len(raw)
	if n > k.size {
		n = k.size
	}
	copy(k.data[:n], raw[:n])
}

// Bytes returns the key's significant bytes.
func (k GenericKey) Bytes() []byte { return k.data[:k.size] }

// Size reports the key's configured width in bytes.
func (k GenericKey) Size() int { return k.size }

// CompareGenericKey imposes a total order via plain lexicographic
// (big-endian) byte comparison.
func CompareGenericKey(a, b GenericKey) int {
	return bytes.Compare(a.data[:a.size], b.data[:b.size])
}

// RID is a record id: the value type stored by index leaves, pointing at
// a slot within a page.
type RID struct {
	PageID storage.PageID
	SlotID uint32
}

// Comparator imposes a total order over K, satisfied here by
// CompareGenericKey for GenericKey-keyed trees.
type Comparator[K any] func(a, b K) int
