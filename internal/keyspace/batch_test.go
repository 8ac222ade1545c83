package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/pkg/logger"
)

func TestBatchAssignsConsecutiveSeqNosPerItem(t *testing.T) {
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	batch := ks.NewBatch()
	batch.Put("default", []byte("a"), []byte("1"))
	batch.Put("default", []byte("b"), []byte("2"))
	batch.Put("default", []byte("c"), []byte("3"))
	first, err := batch.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	next := ks.NewBatch()
	next.Put("default", []byte("d"), []byte("4"))
	seqNo, err := next.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(4), seqNo)
}

func TestBatchDeleteIsVisibleAsATombstone(t *testing.T) {
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	put := ks.NewBatch()
	put.Put("default", []byte("a"), []byte("1"))
	_, err = put.Commit()
	require.NoError(t, err)

	del := ks.NewBatch()
	del.Delete("default", []byte("a"))
	_, err = del.Commit()
	require.NoError(t, err)

	p, err := ks.Partition("default")
	require.NoError(t, err)
	_, ok, err := p.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBatchCanSpanMultiplePartitionsAtomically(t *testing.T) {
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	batch := ks.NewBatch()
	batch.Put("users", []byte("1"), []byte("alice"))
	batch.Put("emails", []byte("1"), []byte("alice@example.com"))
	_, err = batch.Commit()
	require.NoError(t, err)

	users, err := ks.Partition("users")
	require.NoError(t, err)
	emails, err := ks.Partition("emails")
	require.NoError(t, err)

	v, ok, err := users.Get([]byte("1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alice"), v)

	v, ok, err = emails.Get([]byte("1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alice@example.com"), v)
}
