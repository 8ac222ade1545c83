package manifest

import (
	"path/filepath"
	"testing"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/stretchr/testify/require"
)

func seg(id string, min, max byte) SegmentMeta {
	return SegmentMeta{ID: id, KeyRange: kv.KeyRange{Min: []byte{min}, Max: []byte{max}}}
}

func TestResolvedViewHidesCompactingSegments(t *testing.T) {
	levels := New(2, nil)
	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{seg("a", 0, 9)}, 0))

	require.NoError(t, levels.Hide([]string{"a"}))
	view := levels.ResolvedView()
	require.Empty(t, view.Levels[0].Segments)

	levels.Unhide([]string{"a"})
	view = levels.ResolvedView()
	require.Len(t, view.Levels[0].Segments, 1)
}

func TestHideRejectsUnknownOrDoubleHide(t *testing.T) {
	levels := New(2, nil)
	require.Error(t, levels.Hide([]string{"ghost"}))

	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{seg("a", 0, 9)}, 0))
	require.NoError(t, levels.Hide([]string{"a"}))
	require.Error(t, levels.Hide([]string{"a"}))
}

func TestAtomicSwapMovesSegmentsAndClearsHidden(t *testing.T) {
	levels := New(3, nil)
	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{seg("a", 0, 4), seg("b", 5, 9)}, 0))
	require.NoError(t, levels.Hide([]string{"a", "b"}))

	merged := seg("c", 0, 9)
	require.NoError(t, levels.AtomicSwap([]string{"a", "b"}, []SegmentMeta{merged}, 1))

	snap := levels.Snapshot()
	require.Empty(t, snap[0].Segments)
	require.Len(t, snap[1].Segments, 1)
	require.Equal(t, "c", snap[1].Segments[0].ID)

	view := levels.ResolvedView()
	require.Len(t, view.Levels[1].Segments, 1)
}

func TestAtomicSwapRejectsOverlapAtNonZeroLevel(t *testing.T) {
	levels := New(2, nil)
	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{seg("a", 0, 9)}, 1))
	err := levels.AtomicSwap(nil, []SegmentMeta{seg("b", 5, 15)}, 1)
	require.Error(t, err)
}

func TestFindInLevelBinarySearch(t *testing.T) {
	levels := New(2, nil)
	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{
		seg("a", 0, 4), seg("b", 10, 14), seg("c", 20, 24),
	}, 1))

	found, ok := levels.FindInLevel(1, []byte{12})
	require.True(t, ok)
	require.Equal(t, "b", found.ID)

	_, ok = levels.FindInLevel(1, []byte{7})
	require.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	levels := []Level{
		{Segments: []SegmentMeta{
			{ID: "a", KeyRange: kv.KeyRange{Min: []byte("a"), Max: []byte("m")}, MinSeqNo: 1, MaxSeqNo: 10, ItemCount: 5, TombstoneCount: 1, FileSize: 4096},
		}},
		{Segments: nil},
	}

	buf, err := Encode(levels)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, levels, decoded)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	buf, err := Encode([]Level{{}, {}})
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, err = Decode(buf)
	require.Error(t, err)
}

func TestNewPersistentRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()

	levels, err := NewPersistent(dir, 3)
	require.NoError(t, err)
	require.NoError(t, levels.AtomicSwap(nil, []SegmentMeta{seg("a", 0, 9)}, 0))

	reopened, err := NewPersistent(dir, 3)
	require.NoError(t, err)
	snap := reopened.Snapshot()
	require.Len(t, snap[0].Segments, 1)
	require.Equal(t, "a", snap[0].Segments[0].ID)

	require.FileExists(t, filepath.Join(dir, FileName))
}
