package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/pkg/logger"
)

func TestPartitionRangeReturnsLatestCommittedState(t *testing.T) {
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	batch := ks.NewBatch()
	batch.Put("default", []byte("a"), []byte("1"))
	batch.Put("default", []byte("b"), []byte("2"))
	_, err = batch.Commit()
	require.NoError(t, err)

	p, err := ks.Partition("default")
	require.NoError(t, err)

	it, err := p.Range(kv.Bounds{})
	require.NoError(t, err)

	var keys []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, string(v.Key))
	}
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestPartitionContainsKeyHidesTombstones(t *testing.T) {
	ks, err := Open(&Config{Options: testOptions(t), Logger: logger.Nop()})
	require.NoError(t, err)
	defer ks.Close()

	batch := ks.NewBatch()
	batch.Put("default", []byte("a"), []byte("1"))
	_, err = batch.Commit()
	require.NoError(t, err)

	p, err := ks.Partition("default")
	require.NoError(t, err)
	ok, err := p.ContainsKey([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	del := ks.NewBatch()
	del.Delete("default", []byte("a"))
	_, err = del.Commit()
	require.NoError(t, err)

	ok, err = p.ContainsKey([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}
