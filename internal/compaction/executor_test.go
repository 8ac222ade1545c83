package compaction

import (
	"testing"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/stretchr/testify/require"
)

type sliceIter struct {
	values []kv.InternalValue
	idx    int
}

func newSliceIter(values []kv.InternalValue) *sliceIter {
	return &sliceIter{values: values}
}

func (s *sliceIter) Next() (kv.InternalValue, bool) {
	if s.idx >= len(s.values) {
		return kv.InternalValue{}, false
	}
	v := s.values[s.idx]
	s.idx++
	return v, true
}

func drain(it Iterator) []kv.InternalValue {
	var out []kv.InternalValue
	for {
		v, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

type fakeSnapshots struct{ live []kv.SeqNo }

func (f fakeSnapshots) LiveSnapshots() []kv.SeqNo { return f.live }

type fakeStore struct {
	segments map[string][]kv.InternalValue
	written  []kv.InternalValue
	nextID   int
	deleted  []string
}

func (f *fakeStore) Open(id string) (Iterator, error) {
	return newSliceIter(f.segments[id]), nil
}

func (f *fakeStore) Write(it Iterator) (manifest.SegmentMeta, error) {
	vals := drain(it)
	f.written = vals
	f.nextID++
	id := "merged"
	var minSeq, maxSeq kv.SeqNo
	if len(vals) > 0 {
		minSeq, maxSeq = vals[0].SeqNo, vals[0].SeqNo
		for _, v := range vals {
			if v.SeqNo < minSeq {
				minSeq = v.SeqNo
			}
			if v.SeqNo > maxSeq {
				maxSeq = v.SeqNo
			}
		}
	}
	return manifest.SegmentMeta{ID: id, ItemCount: uint64(len(vals)), MinSeqNo: minSeq, MaxSeqNo: maxSeq}, nil
}

func (f *fakeStore) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) Reclaim(snapshots SnapshotProvider) error {
	return nil
}

func TestMergeIteratorsGlobalOrder(t *testing.T) {
	a := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 3},
		{Key: []byte("c"), SeqNo: 1},
	})
	b := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 1},
		{Key: []byte("b"), SeqNo: 2},
	})

	merged := drain(mergeIterators([]Iterator{a, b}))
	require.Len(t, merged, 4)
	require.Equal(t, []byte("a"), merged[0].Key)
	require.Equal(t, kv.SeqNo(3), merged[0].SeqNo)
	require.Equal(t, []byte("a"), merged[1].Key)
	require.Equal(t, kv.SeqNo(1), merged[1].SeqNo)
	require.Equal(t, []byte("b"), merged[2].Key)
	require.Equal(t, []byte("c"), merged[3].Key)
}

func TestStripeCollapserNoSnapshotsKeepsNewestOnly(t *testing.T) {
	src := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 3, Value: []byte("v3")},
		{Key: []byte("a"), SeqNo: 2, Value: []byte("v2")},
		{Key: []byte("a"), SeqNo: 1, Value: []byte("v1")},
		{Key: []byte("b"), SeqNo: 1, Value: []byte("v1")},
	})
	out := drain(newStripeCollapser(src, fakeSnapshots{}, false))
	require.Len(t, out, 2)
	require.Equal(t, []byte("v3"), out[0].Value)
	require.Equal(t, []byte("b"), out[1].Key)
}

func TestStripeCollapserPreservesVersionPerLiveSnapshot(t *testing.T) {
	src := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 9, Value: []byte("v9")},
		{Key: []byte("a"), SeqNo: 8, Value: []byte("v8")},
		{Key: []byte("a"), SeqNo: 7, Value: []byte("v7")},
		{Key: []byte("a"), SeqNo: 5, Value: []byte("v5")},
	})
	out := drain(newStripeCollapser(src, fakeSnapshots{live: []kv.SeqNo{6}}, false))
	require.Len(t, out, 2)
	require.Equal(t, []byte("v9"), out[0].Value)
	require.Equal(t, []byte("v5"), out[1].Value)
}

func TestStripeCollapserElidesTombstoneAtBaseLevel(t *testing.T) {
	src := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 2, Kind: kv.ValueKindTombstone},
	})
	out := drain(newStripeCollapser(src, fakeSnapshots{}, true))
	require.Empty(t, out)
}

func TestStripeCollapserKeepsTombstoneWhenNotBaseLevel(t *testing.T) {
	src := newSliceIter([]kv.InternalValue{
		{Key: []byte("a"), SeqNo: 2, Kind: kv.ValueKindTombstone},
	})
	out := drain(newStripeCollapser(src, fakeSnapshots{}, false))
	require.Len(t, out, 1)
	require.True(t, out[0].IsTombstone())
}

func TestExecutorRunOnceCompactsAndSwaps(t *testing.T) {
	store := &fakeStore{segments: map[string][]kv.InternalValue{
		"a": {{Key: []byte("x"), SeqNo: 1, Value: []byte("1")}},
		"b": {{Key: []byte("y"), SeqNo: 2, Value: []byte("2")}},
	}}

	levels := manifest.New(2, nil)
	require.NoError(t, levels.AtomicSwap(nil, []manifest.SegmentMeta{
		{ID: "a", MaxSeqNo: 1}, {ID: "b", MaxSeqNo: 2},
	}, 0))

	exec := NewExecutor(store, NewSizeTiered(2, 8))
	ran, err := exec.RunOnce(levels, fakeSnapshots{})
	require.NoError(t, err)
	require.True(t, ran)

	snap := levels.Snapshot()
	require.Empty(t, snap[0].Segments)
	require.Len(t, snap[1].Segments, 1)
	require.Equal(t, "merged", snap[1].Segments[0].ID)
	require.ElementsMatch(t, []string{"a", "b"}, store.deleted)
}

func TestExecutorRunOnceNoOpWhenBelowThreshold(t *testing.T) {
	store := &fakeStore{}
	levels := manifest.New(2, nil)
	exec := NewExecutor(store, NewSizeTiered(4, 8))
	ran, err := exec.RunOnce(levels, fakeSnapshots{})
	require.NoError(t, err)
	require.False(t, ran)
}
