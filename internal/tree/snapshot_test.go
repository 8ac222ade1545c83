package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotCounterAcquireRelease(t *testing.T) {
	c := NewSnapshotCounter()
	require.True(t, c.IsEmpty())

	c.Acquire(5)
	c.Acquire(5)
	c.Acquire(3)

	require.False(t, c.IsEmpty())
	require.Equal(t, []uint64{3, 5}, c.LiveSnapshots())

	min, ok := c.MinLive()
	require.True(t, ok)
	require.Equal(t, uint64(3), min)

	c.Release(3)
	min, ok = c.MinLive()
	require.True(t, ok)
	require.Equal(t, uint64(5), min)

	c.Release(5)
	require.False(t, c.IsEmpty())

	c.Release(5)
	require.True(t, c.IsEmpty())
}

func TestSnapshotCounterReleaseOfUnknownSeqNoIsNoop(t *testing.T) {
	c := NewSnapshotCounter()
	c.Release(42)
	require.True(t, c.IsEmpty())
}
