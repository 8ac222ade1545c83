package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/keyspace"
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/pkg/logger"
	"github.com/emberdb/emberdb/pkg/options"
)

func openTestKeyspace(t *testing.T) *keyspace.Keyspace {
	t.Helper()
	opts := options.NewDefaultOptions()
	options.WithDataDir(t.TempDir())(&opts)
	options.WithFlushInterval(5 * time.Millisecond)(&opts)
	options.WithCompactInterval(20 * time.Millisecond)(&opts)

	ks, err := keyspace.Open(&keyspace.Config{Options: &opts, Logger: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return ks
}

func TestWriteTransactionReadYourOwnWritesThenRollbackLeavesNoTrace(t *testing.T) {
	ks := openTestKeyspace(t)

	tx := BeginWrite(ks)
	tx.Put("default", []byte("a"), []byte("1"))

	v, ok, err := tx.Get("default", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	tx.Rollback()

	p, err := ks.Partition("default")
	require.NoError(t, err)
	_, ok, err = p.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteTransactionCommitPersistsTake(t *testing.T) {
	ks := openTestKeyspace(t)

	setup := ks.NewBatch()
	setup.Put("default", []byte("a"), []byte("1"))
	_, err := setup.Commit()
	require.NoError(t, err)

	tx := BeginWrite(ks)
	old, ok, err := tx.Take("default", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), old)

	// Within the same transaction the take is already visible.
	_, ok, err = tx.Get("default", []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = tx.Commit()
	require.NoError(t, err)

	p, err := ks.Partition("default")
	require.NoError(t, err)
	_, ok, err = p.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteTransactionFetchUpdateReturnsPriorValue(t *testing.T) {
	ks := openTestKeyspace(t)

	setup := ks.NewBatch()
	setup.Put("counters", []byte("hits"), []byte("1"))
	_, err := setup.Commit()
	require.NoError(t, err)

	tx := BeginWrite(ks)
	old, ok, err := tx.FetchUpdate("counters", []byte("hits"), func(v []byte, ok bool) []byte {
		require.True(t, ok)
		require.Equal(t, []byte("1"), v)
		return []byte("2")
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), old)

	_, err = tx.Commit()
	require.NoError(t, err)

	p, err := ks.Partition("counters")
	require.NoError(t, err)
	v, ok, err := p.Get([]byte("hits"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestWriteTransactionUpdateFetchReturnsNewValue(t *testing.T) {
	ks := openTestKeyspace(t)

	tx := BeginWrite(ks)
	updated, err := tx.UpdateFetch("counters", []byte("hits"), func(v []byte, ok bool) []byte {
		require.False(t, ok)
		return []byte("1")
	})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), updated)
	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestWriteTransactionRangeMergesPrivateAndCommittedWritesWithoutDuplicates(t *testing.T) {
	ks := openTestKeyspace(t)

	setup := ks.NewBatch()
	setup.Put("default", []byte("a"), []byte("1"))
	_, err := setup.Commit()
	require.NoError(t, err)

	tx := BeginWrite(ks)
	tx.Put("default", []byte("b"), []byte("2"))
	tx.Put("default", []byte("c"), []byte("3"))

	it, err := tx.Range("default", kv.Bounds{})
	require.NoError(t, err)

	var got [][2]string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, [2]string{string(v.Key), string(v.Value)})
	}
	require.Equal(t, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}, got)

	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestWriteTransactionSerializesWithAnotherWriteTransaction(t *testing.T) {
	ks := openTestKeyspace(t)

	first := BeginWrite(ks)
	first.Put("default", []byte("a"), []byte("1"))

	type result struct {
		found bool
		err   error
	}
	results := make(chan result, 1)
	go func() {
		second := BeginWrite(ks)
		defer second.Rollback()
		// BeginWrite here only returns once first has committed and
		// released the writer lock, so first's write is already committed
		// at this transaction's instant and is visible to it.
		_, ok, err := second.Get("default", []byte("a"))
		results <- result{found: ok, err: err}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := first.Commit()
	require.NoError(t, err)

	res := <-results
	require.NoError(t, res.err)
	require.True(t, res.found)
}
