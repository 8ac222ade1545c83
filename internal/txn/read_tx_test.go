package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/kv"
)

func TestReadTransactionIsAMonotonicSnapshot(t *testing.T) {
	ks := openTestKeyspace(t)

	setup := ks.NewBatch()
	setup.Put("default", []byte("a"), []byte("1"))
	_, err := setup.Commit()
	require.NoError(t, err)

	read := BeginRead(ks)
	defer read.Close()

	v, ok, err := read.Get("default", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	// A write committed after the snapshot was taken must not be visible
	// through it.
	later := ks.NewBatch()
	later.Put("default", []byte("a"), []byte("2"))
	_, err = later.Commit()
	require.NoError(t, err)

	v, ok, err = read.Get("default", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestReadTransactionRangeExcludesWritesCommittedAfterTheSnapshot(t *testing.T) {
	ks := openTestKeyspace(t)

	setup := ks.NewBatch()
	setup.Put("default", []byte("a"), []byte("1"))
	_, err := setup.Commit()
	require.NoError(t, err)

	read := BeginRead(ks)
	defer read.Close()

	tx := BeginWrite(ks)
	tx.Put("default", []byte("b"), []byte("2"))
	tx.Put("default", []byte("c"), []byte("3"))
	_, err = tx.Commit()
	require.NoError(t, err)

	it, err := read.Range("default", kv.Bounds{})
	require.NoError(t, err)

	var got [][2]string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, [2]string{string(v.Key), string(v.Value)})
	}
	require.Equal(t, [][2]string{{"a", "1"}}, got)
}

func TestReadTransactionCloseIsIdempotent(t *testing.T) {
	ks := openTestKeyspace(t)
	read := BeginRead(ks)
	read.Close()
	read.Close()
	require.True(t, ks.Snapshots().IsEmpty())
}
