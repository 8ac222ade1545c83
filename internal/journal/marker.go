// Package journal implements the write-ahead log: a batch-framed,
// CRC-verified, append-only record stream used to recover not-yet-flushed
// memtables after a crash. It is not a read source — only a recovery
// mechanism.
package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
)

// Frame tags, written as the first byte of every marker.
const (
	tagStart byte = 0x00
	tagItem  byte = 0x01
	tagEnd   byte = 0x02
)

// Item is one mutation within a journal batch: a (partition, key, value,
// tombstone) tuple. The partition name travels alongside the key in the
// item payload so recovery can attribute each item to the right
// partition's memtable.
type Item struct {
	Partition   string
	Key         []byte
	Value       []byte
	IsTombstone bool
}

// Batch is one committed write: a base sequence number and the ordered
// items it covers. Item i is assigned SeqNo+i.
type Batch struct {
	SeqNo kv.SeqNo
	Items []Item
}

// encodeItem writes one Item frame and returns its encoded bytes, which
// the caller accumulates to compute the batch CRC.
func encodeItem(w io.Writer, it Item) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagItem)

	if it.IsTombstone {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if len(it.Partition) > 0xFFFF {
		return nil, emberrors.NewValidationError(
			nil, emberrors.ErrorCodeInvalidInput, "partition name too long",
		).WithField("partition").WithRule("max_length_65535")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(it.Partition)))
	buf.Write(lenBuf[:])
	buf.WriteString(it.Partition)

	if len(it.Key) == 0 || len(it.Key) > kv.MaxUserKeySize {
		return nil, emberrors.NewValidationError(
			nil, emberrors.ErrorCodeInvalidInput, "key length out of range",
		).WithField("key").WithRule("1..=65536")
	}
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(it.Key)))
	buf.Write(lenBuf[:])
	buf.Write(it.Key)

	var valLenBuf [4]byte
	binary.BigEndian.PutUint32(valLenBuf[:], uint32(len(it.Value)))
	buf.Write(valLenBuf[:])
	buf.Write(it.Value)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeItem reads one Item frame (tag byte already consumed by the
// caller) from r.
func decodeItem(r io.Reader) (Item, []byte, error) {
	var header [1]byte
	var item Item

	var buf bytes.Buffer
	buf.WriteByte(tagItem)

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return item, nil, err
	}
	buf.Write(header[:])
	item.IsTombstone = header[0] != 0

	partLen, err := readU16(r, &buf)
	if err != nil {
		return item, nil, err
	}
	partition := make([]byte, partLen)
	if _, err := io.ReadFull(r, partition); err != nil {
		return item, nil, err
	}
	buf.Write(partition)
	item.Partition = string(partition)

	keyLen, err := readU16(r, &buf)
	if err != nil {
		return item, nil, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return item, nil, err
	}
	buf.Write(key)
	item.Key = key

	valLen, err := readU32(r, &buf)
	if err != nil {
		return item, nil, err
	}
	value := make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return item, nil, err
	}
	buf.Write(value)
	item.Value = value

	return item, buf.Bytes(), nil
}

func readU16(r io.Reader, echo *bytes.Buffer) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	echo.Write(b[:])
	return binary.BigEndian.Uint16(b[:]), nil
}

func readU32(r io.Reader, echo *bytes.Buffer) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	echo.Write(b[:])
	return binary.BigEndian.Uint32(b[:]), nil
}

// checksum computes the IEEE CRC-32 over the concatenation of a batch's
// encoded Item bytes, matching the original journal's End marker.
func checksum(itemBytes [][]byte) uint32 {
	h := crc32.NewIEEE()
	for _, b := range itemBytes {
		h.Write(b)
	}
	return h.Sum32()
}
