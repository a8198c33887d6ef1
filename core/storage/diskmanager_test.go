package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiskManager_AllocateReadWrite(t *testing.T) {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "pages.db"), DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, HeaderPageID, id)

	buf := make([]byte, DefaultPageSize)
	copy(buf, []byte("payload"))
	require.NoError(t, dm.WritePage(id, buf))

	read := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(id, read))
	require.Equal(t, "payload", string(read[:7]))
}

func TestDiskManager_DeallocateReusesID(t *testing.T) {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "pages.db"), DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	defer dm.Close()

	id1, _ := dm.AllocatePage()
	id2, _ := dm.AllocatePage()
	require.NoError(t, dm.DeallocatePage(id2))

	id3, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id2, id3)
	require.NotEqual(t, id1, id3)
}

func TestDiskManager_ReadUnwrittenPageIsZero(t *testing.T) {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "pages.db"), DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}
