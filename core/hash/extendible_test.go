package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestInsertTriggersSplit reproduces the boundary scenario: bucket_size
// 2, an initial insert sequence that fills the single bucket, and a
// third insert that forces exactly one split.
func TestInsertTriggersSplit(t *testing.T) {
	tbl := New[uint64, string](2, HashUint64[uint64])
	require.Equal(t, 0, tbl.GlobalDepth())
	require.Equal(t, 1, tbl.NumBuckets())

	tbl.Insert(1, "a")
	tbl.Insert(2, "b")
	require.Equal(t, 1, tbl.NumBuckets())

	tbl.Insert(3, "c")
	require.Equal(t, 2, tbl.NumBuckets())

	v, ok := tbl.Find(3)
	require.True(t, ok)
	require.Equal(t, "c", v)
}

func TestFindMissingKey(t *testing.T) {
	tbl := New[uint64, string](4, HashUint64[uint64])
	_, ok := tbl.Find(42)
	require.False(t, ok)
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	tbl := New[uint64, string](4, HashUint64[uint64])
	tbl.Insert(10, "x")
	tbl.Insert(10, "y")
	v, ok := tbl.Find(10)
	require.True(t, ok)
	require.Equal(t, "y", v)
}

func TestRemove(t *testing.T) {
	tbl := New[uint64, string](4, HashUint64[uint64])
	tbl.Insert(10, "x")
	require.True(t, tbl.Remove(10))
	_, ok := tbl.Find(10)
	require.False(t, ok)
	require.False(t, tbl.Remove(10))
}

func TestManyInsertsAllRetrievable(t *testing.T) {
	tbl := New[uint64, int](2, HashUint64[uint64])
	for i := uint64(0); i < 200; i++ {
		tbl.Insert(i, int(i))
	}
	for i := uint64(0); i < 200; i++ {
		v, ok := tbl.Find(i)
		require.True(t, ok, "key %d", i)
		require.Equal(t, int(i), v)
	}
}

func TestStringKeys(t *testing.T) {
	tbl := New[string, int](2, HashString[string])
	tbl.Insert("alpha", 1)
	tbl.Insert("beta", 2)
	v, ok := tbl.Find("alpha")
	require.True(t, ok)
	require.Equal(t, 1, v)
}
