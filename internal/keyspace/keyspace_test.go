package keyspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/pkg/logger"
	"github.com/emberdb/emberdb/pkg/options"
)

func testOptions(t *testing.T) *options.Options {
	t.Helper()
	opts := options.NewDefaultOptions()
	options.WithDataDir(t.TempDir())(&opts)
	options.WithFlushInterval(5 * time.Millisecond)(&opts)
	options.WithCompactInterval(20 * time.Millisecond)(&opts)
	options.WithMemtableMaxSize(options.MinMemtableSize)(&opts)
	return &opts
}

func openTestKeyspace(t *testing.T) *Keyspace {
	t.Helper()
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return ks
}

func TestOpenCreatesDataDirectoryAndClosesCleanly(t *testing.T) {
	ks := openTestKeyspace(t)
	require.NoError(t, ks.Close())
	require.ErrorIs(t, ks.Close(), ErrKeyspaceClosed)
}

func TestPartitionIsIdempotentByName(t *testing.T) {
	ks := openTestKeyspace(t)

	a, err := ks.Partition("default")
	require.NoError(t, err)
	b, err := ks.Partition("default")
	require.NoError(t, err)
	require.Same(t, a.part, b.part)
}

func TestBatchCommitIsVisibleThroughPartitionHandle(t *testing.T) {
	ks := openTestKeyspace(t)

	batch := ks.NewBatch()
	batch.Put("default", []byte("a"), []byte("1"))
	batch.Put("other", []byte("b"), []byte("2"))
	seqNo, err := batch.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(1), seqNo)

	p, err := ks.Partition("default")
	require.NoError(t, err)
	v, ok, err := p.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	other, err := ks.Partition("other")
	require.NoError(t, err)
	v, ok, err = other.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestReopeningKeyspaceReplaysJournal(t *testing.T) {
	opts := testOptions(t)

	ks, err := Open(&Config{Options: opts, Logger: logger.Nop()})
	require.NoError(t, err)

	batch := ks.NewBatch()
	batch.Put("default", []byte("a"), []byte("1"))
	_, err = batch.Commit()
	require.NoError(t, err)
	require.NoError(t, ks.Close())

	ks2, err := Open(&Config{Options: opts, Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks2.Close()

	p, err := ks2.Partition("default")
	require.NoError(t, err)
	v, ok, err := p.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	batch2 := ks2.NewBatch()
	batch2.Put("default", []byte("b"), []byte("2"))
	seqNo, err := batch2.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(2), seqNo)
}

func TestCommitBlocksOnSealedMemtableBackpressureUntilFlushCatchesUp(t *testing.T) {
	opts := testOptions(t)
	options.WithMaxSealedMemtables(1)(opts)
	options.WithFlushInterval(100 * time.Millisecond)(opts)

	ks, err := Open(&Config{Options: opts, Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	part, err := ks.getOrCreatePartition("default")
	require.NoError(t, err)

	// Manually stack up sealed memtables past the configured threshold,
	// bypassing the size-triggered seal so the test controls the exact
	// count the commit below must wait behind.
	part.tree.Seal(ks.journal.Offset())
	part.tree.Seal(ks.journal.Offset())

	done := make(chan error, 1)
	go func() {
		batch := ks.NewBatch()
		batch.Put("default", []byte("a"), []byte("1"))
		_, err := batch.Commit()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("commit returned before the flush manager drained sealed memtables below the threshold")
	case <-time.After(20 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBackgroundFlushMovesSealedMemtableToSegment(t *testing.T) {
	ks := openTestKeyspace(t)

	batch := ks.NewBatch()
	// MemtableMaxSize floored to MinMemtableSize above; one large value
	// crosses the threshold and latches a flush request.
	batch.Put("default", []byte("a"), make([]byte, options.MinMemtableSize))
	_, err := batch.Commit()
	require.NoError(t, err)

	part, err := ks.getOrCreatePartition("default")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(part.tree.Levels().Snapshot()[0].Segments) == 1
	}, time.Second, 5*time.Millisecond)
}
