package compaction

import (
	"testing"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/stretchr/testify/require"
)

func lvlSeg(id string, maxSeqNo kv.SeqNo, size uint64) manifest.SegmentMeta {
	return manifest.SegmentMeta{ID: id, MaxSeqNo: maxSeqNo, FileSize: size}
}

func TestSizeTieredDoesNothingBelowThreshold(t *testing.T) {
	s := NewSizeTiered(4, 8)
	view := manifest.ResolvedView{Levels: []manifest.Level{
		{Segments: []manifest.SegmentMeta{lvlSeg("a", 1, 10), lvlSeg("b", 2, 10)}},
		{},
	}}
	require.Equal(t, DoNothing, s.Choose(view))
}

func TestSizeTieredChoosesOldestAtFirstEligibleLevel(t *testing.T) {
	s := NewSizeTiered(4, 8)
	view := manifest.ResolvedView{Levels: []manifest.Level{
		{Segments: []manifest.SegmentMeta{
			lvlSeg("a", 4, 10), lvlSeg("b", 1, 10), lvlSeg("c", 3, 10), lvlSeg("d", 2, 10),
		}},
		{},
	}}

	d := s.Choose(view)
	require.True(t, d.Compact)
	require.Equal(t, 1, d.DestLevel)
	require.ElementsMatch(t, []string{"b", "d", "c", "a"}, d.SegmentIDs)
	require.Equal(t, []string{"b", "d", "c", "a"}, d.SegmentIDs)
}

func TestSizeTieredCapsAtMaxThreshold(t *testing.T) {
	s := NewSizeTiered(3, 2)
	segs := make([]manifest.SegmentMeta, 5)
	for i := range segs {
		segs[i] = lvlSeg(string(rune('a'+i)), kv.SeqNo(i), 10)
	}
	view := manifest.ResolvedView{Levels: []manifest.Level{{Segments: segs}, {}}}

	d := s.Choose(view)
	require.True(t, d.Compact)
	require.Len(t, d.SegmentIDs, 2)
	require.Equal(t, []string{"a", "b"}, d.SegmentIDs)
}

func TestSizeTieredNeverSourcesLastLevel(t *testing.T) {
	s := NewSizeTiered(1, 8)
	view := manifest.ResolvedView{Levels: []manifest.Level{
		{},
		{Segments: []manifest.SegmentMeta{lvlSeg("a", 1, 10)}},
	}}
	require.Equal(t, DoNothing, s.Choose(view))
}
