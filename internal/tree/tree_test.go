package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/emberdb/emberdb/internal/segment"
	"github.com/emberdb/emberdb/pkg/logger"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()

	store, err := segment.NewStore(&segment.Config{
		Directory:              t.TempDir(),
		BlockSize:              4096,
		BlockCacheSize:         64,
		BloomFalsePositiveRate: 0.01,
		Logger:                 logger.Nop(),
	})
	require.NoError(t, err)

	levels := manifest.New(4, nil)

	return New(&Config{
		Name:            "default",
		Levels:          levels,
		Segments:        store,
		Snapshots:       NewSnapshotCounter(),
		MaxMemtableSize: 1 << 20,
		Logger:          logger.Nop(),
	})
}

func TestInsertAndGetFromActiveMemtable(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("2"), SeqNo: 2})

	v, ok, err := tr.Get([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)

	v, ok, err = tr.Get([]byte("a"), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestGetHidesTombstonesButGetRawExposesThem(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Insert(kv.InternalValue{Key: []byte("a"), Kind: kv.ValueKindTombstone, SeqNo: 2})

	_, ok, err := tr.Get([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.False(t, ok)

	raw, ok, err := tr.GetRaw([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, raw.IsTombstone())
}

func TestSealMovesActiveToSealedQueueAndStartsFreshActive(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Seal(100)

	offset, ok := tr.OldestSealedJournalOffset()
	require.True(t, ok)
	require.Equal(t, int64(100), offset)

	v, ok, err := tr.Get([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	tr.Insert(kv.InternalValue{Key: []byte("b"), Value: []byte("2"), SeqNo: 2})
	v, ok, err = tr.Get([]byte("b"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestFlushWritesSealedMemtableToLevel0AndDropsIt(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Seal(50)

	flushed, err := tr.Flush()
	require.NoError(t, err)
	require.True(t, flushed)

	_, ok := tr.OldestSealedJournalOffset()
	require.False(t, ok)

	v, ok, err := tr.Get([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	level0 := tr.levels.Snapshot()[0]
	require.Len(t, level0.Segments, 1)
}

func TestFlushWithNothingSealedIsNoop(t *testing.T) {
	tr := newTestTree(t)
	flushed, err := tr.Flush()
	require.NoError(t, err)
	require.False(t, flushed)
}

func TestGetPrefersNewestAcrossActiveSealedAndSegment(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("from-segment"), SeqNo: 1})
	tr.Seal(10)
	_, err := tr.Flush()
	require.NoError(t, err)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("from-sealed"), SeqNo: 2})
	tr.Seal(20)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("from-active"), SeqNo: 3})

	v, ok, err := tr.Get([]byte("a"), kv.MaxSeqNo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("from-active"), v)

	v, ok, err = tr.Get([]byte("a"), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("from-sealed"), v)

	v, ok, err = tr.Get([]byte("a"), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("from-segment"), v)
}

func TestRangeMergesPrivateAndCommittedWritesWithoutDuplicates(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Insert(kv.InternalValue{Key: []byte("b"), Value: []byte("2"), SeqNo: 2})
	tr.Seal(10)
	_, err := tr.Flush()
	require.NoError(t, err)

	// A committed update to "b" and a brand new key "c", both still in
	// the active memtable: the iterator must merge segment + active
	// without ever surfacing "b"'s stale on-disk version.
	tr.Insert(kv.InternalValue{Key: []byte("b"), Value: []byte("2-updated"), SeqNo: 3})
	tr.Insert(kv.InternalValue{Key: []byte("c"), Value: []byte("3"), SeqNo: 4})

	it, err := tr.Range(kv.Bounds{}, kv.MaxSeqNo)
	require.NoError(t, err)

	var out []kv.InternalValue
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}

	require.Len(t, out, 3)
	require.Equal(t, []byte("a"), out[0].Key)
	require.Equal(t, []byte("1"), out[0].Value)
	require.Equal(t, []byte("b"), out[1].Key)
	require.Equal(t, []byte("2-updated"), out[1].Value)
	require.Equal(t, []byte("c"), out[2].Key)
	require.Equal(t, []byte("3"), out[2].Value)
}

func TestRangeDropsTombstones(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("1"), SeqNo: 1})
	tr.Insert(kv.InternalValue{Key: []byte("b"), Value: []byte("2"), SeqNo: 2})
	tr.Insert(kv.InternalValue{Key: []byte("b"), Kind: kv.ValueKindTombstone, SeqNo: 3})

	it, err := tr.Range(kv.Bounds{}, kv.MaxSeqNo)
	require.NoError(t, err)

	var out []kv.InternalValue
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}

	require.Len(t, out, 1)
	require.Equal(t, []byte("a"), out[0].Key)
}

func TestRangeRespectsSnapshotSeqNo(t *testing.T) {
	tr := newTestTree(t)

	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("old"), SeqNo: 1})
	snapshotSeq := kv.SeqNo(1)
	tr.Insert(kv.InternalValue{Key: []byte("a"), Value: []byte("new"), SeqNo: 2})

	it, err := tr.Range(kv.Bounds{}, snapshotSeq)
	require.NoError(t, err)

	v, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, []byte("old"), v.Value)

	_, ok = it.Next()
	require.False(t, ok)
}
