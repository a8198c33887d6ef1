package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmehta/stratadb/core/storage"
)

func TestIteratorClone_AdvancesIndependently(t *testing.T) {
	tree := setupTree(t, 4, 4)
	for _, k := range []int64{1, 2, 3, 4, 5} {
		_, err := tree.Insert(intKey(k), RID{PageID: storage.PageID(k)})
		require.NoError(t, err)
	}

	it := tree.Begin()
	require.True(t, it.Valid())
	require.Equal(t, int64(1), it.Key().ToInt64())

	clone := it.Clone()
	it.Next()

	require.Equal(t, int64(2), it.Key().ToInt64())
	require.Equal(t, int64(1), clone.Key().ToInt64())

	it.Close()
	clone.Close()
	require.False(t, it.Valid())
	require.False(t, clone.Valid())
}

func TestIteratorClone_OfEndIteratorStaysAtEnd(t *testing.T) {
	tree := setupTree(t, 4, 4)
	it := tree.End()
	clone := it.Clone()
	require.False(t, clone.Valid())
}

func TestIteratorClose_IsSafeOnExhaustedIterator(t *testing.T) {
	tree := setupTree(t, 4, 4)
	it := tree.Begin()
	require.False(t, it.Valid())
	it.Close()
	it.Close()
}
