package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEvict_YoungBeforeMature reproduces the boundary scenario of a
// pool with 7 frames and k=2: the young frame evicts before any mature
// frame, regardless of recency.
func TestEvict_YoungBeforeMature(t *testing.T) {
	r := New(7, 2, nil)

	for i := FrameID(0); i < 7; i++ {
		r.RecordAccess(i)
		r.SetEvictable(i, true)
	}
	// Frame 2 accessed only once: stays young.
	for i := FrameID(0); i < 7; i++ {
		if i == 2 {
			continue
		}
		r.RecordAccess(i)
	}

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), victim)
}

func TestEvict_MaturePicksSmallestKthTimestamp(t *testing.T) {
	r := New(3, 2, nil)
	for i := FrameID(0); i < 3; i++ {
		r.RecordAccess(i)
		r.RecordAccess(i)
		r.SetEvictable(i, true)
	}
	// Frame 1 accessed again most recently: its k-th timestamp advances,
	// so it should survive before frame 0 or 2.
	r.RecordAccess(1)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.NotEqual(t, FrameID(1), victim)
}

func TestSetEvictable_TogglesSizeAndMembership(t *testing.T) {
	r := New(2, 2, nil)
	r.RecordAccess(0)
	require.Equal(t, 0, r.Size())

	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())

	r.SetEvictable(0, false)
	require.Equal(t, 0, r.Size())
}

func TestEvict_EmptyReplacerReturnsFalse(t *testing.T) {
	r := New(4, 2, nil)
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestRemove_OnlyAffectsEvictableFrames(t *testing.T) {
	r := New(2, 2, nil)
	r.RecordAccess(0)
	r.Remove(0) // not evictable yet: no-op
	require.Equal(t, 0, r.Size())

	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
	r.Remove(0)
	require.Equal(t, 0, r.Size())
}
