package journal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	emberrors "github.com/emberdb/emberdb/pkg/errors"
	"github.com/emberdb/emberdb/pkg/logger"
	"github.com/emberdb/emberdb/pkg/options"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log := logger.Nop()

	j, err := Open(&Config{Directory: dir, Mode: options.FlushModeSyncAll, Logger: log})
	require.NoError(t, err)

	items := []Item{
		{Partition: "default", Key: []byte("a"), Value: []byte("1")},
		{Partition: "default", Key: []byte("b"), Value: []byte("2"), IsTombstone: true},
	}
	_, err = j.Append(10, items)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := filepath.Join(dir, FileName)
	batches, offset, err := Recover(path, log)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, uint64(10), batches[0].SeqNo)
	require.Equal(t, items, batches[0].Items)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, stat.Size(), offset)
}

func TestRecoverTruncatesAtBrokenFrame(t *testing.T) {
	dir := t.TempDir()
	log := logger.Nop()

	j, err := Open(&Config{Directory: dir, Mode: options.FlushModeBuffered, Logger: log})
	require.NoError(t, err)

	_, err = j.Append(1, []Item{{Partition: "p", Key: []byte("k1"), Value: []byte("v1")}})
	require.NoError(t, err)
	goodOffset := j.Offset()
	require.NoError(t, j.Close())

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	batches, offset, err := Recover(path, log)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, goodOffset, offset)
}

func TestReadBatchInvalidTag(t *testing.T) {
	_, _, err := readBatch(bytes.NewReader([]byte{0x03}))
	var de *emberrors.DeserializeError
	require.ErrorAs(t, err, &de)
	require.True(t, de.TagSet)
	require.Equal(t, byte(3), de.Tag)
}

func TestReadBatchTruncatedStart(t *testing.T) {
	_, _, err := readBatch(bytes.NewReader([]byte{0x00}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
