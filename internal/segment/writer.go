package segment

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
)

// Write drains it (already in ascending-key, descending-seqno order — the
// order every memtable flush and compaction merge produces) into one new
// immutable segment file and returns its manifest metadata. The entire
// stream is buffered once in memory first, since the bloom filter must be
// sized from the final item count before any block is written; this
// mirrors a memtable flush, where the source is already bounded by the
// memtable's own size threshold.
func (s *Store) Write(it Iterator) (manifest.SegmentMeta, error) {
	var values []kv.InternalValue
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		values = append(values, v)
	}

	id := uuid.New().String()
	path := s.pathFor(id)

	if len(values) == 0 {
		return manifest.SegmentMeta{ID: id}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return manifest.SegmentMeta{}, emberrors.ClassifyFileOpenError(err, path, s.fileName(id))
	}
	defer file.Close()

	// A write that fails partway removes its partial file.
	complete := false
	defer func() {
		if !complete {
			os.Remove(path)
		}
	}()

	filter := bloom.NewWithEstimates(uint(len(values)), s.bloomFPRate)

	var (
		offset    uint64
		index     []indexEntry
		blockBuf  bytes.Buffer
		blockKeys int

		minSeqNo, maxSeqNo     kv.SeqNo
		itemCount, tombstoneCt uint64
	)
	minSeqNo = values[0].SeqNo
	maxSeqNo = values[0].SeqNo

	flushBlock := func(firstKeyOfBlock []byte) error {
		if blockBuf.Len() == 0 {
			return nil
		}
		n, err := writeBlock(file, blockBuf.Bytes())
		if err != nil {
			return emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write segment data block").
				WithPath(path).WithSegmentID(id).WithOffset(int64(offset))
		}
		index = append(index, indexEntry{
			firstKey:    append([]byte(nil), firstKeyOfBlock...),
			blockOffset: offset,
			blockLen:    uint32(blockBuf.Len()),
		})
		offset += uint64(n)
		blockBuf.Reset()
		blockKeys = 0
		return nil
	}

	var currentBlockFirstKey []byte
	for _, v := range values {
		if v.SeqNo < minSeqNo {
			minSeqNo = v.SeqNo
		}
		if v.SeqNo > maxSeqNo {
			maxSeqNo = v.SeqNo
		}
		itemCount++
		if v.IsTombstone() {
			tombstoneCt++
		}
		filter.Add(v.Key)

		if blockKeys == 0 {
			currentBlockFirstKey = v.Key
		}
		encodeEntry(&blockBuf, v)
		blockKeys++

		if uint32(blockBuf.Len()) >= s.blockSize {
			if err := flushBlock(currentBlockFirstKey); err != nil {
				return manifest.SegmentMeta{}, err
			}
		}
	}
	if err := flushBlock(currentBlockFirstKey); err != nil {
		return manifest.SegmentMeta{}, err
	}

	indexOffset := offset
	indexBytes := encodeIndex(index)
	indexLen, err := writeBlock(file, indexBytes)
	if err != nil {
		return manifest.SegmentMeta{}, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write segment index block").
			WithPath(path).WithSegmentID(id)
	}
	offset += uint64(indexLen)

	bloomOffset := offset
	bloomBytes, err := encodeBloom(filter)
	if err != nil {
		return manifest.SegmentMeta{}, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to serialize segment bloom filter").
			WithPath(path).WithSegmentID(id)
	}
	bloomLen, err := writeBlock(file, bloomBytes)
	if err != nil {
		return manifest.SegmentMeta{}, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write segment bloom block").
			WithPath(path).WithSegmentID(id)
	}
	offset += uint64(bloomLen)

	footer := encodeFooter(footerFields{
		indexOffset:    indexOffset,
		indexLen:       uint32(indexLen),
		bloomOffset:    bloomOffset,
		bloomLen:       uint32(bloomLen),
		minSeqNo:       minSeqNo,
		maxSeqNo:       maxSeqNo,
		itemCount:      itemCount,
		tombstoneCount: tombstoneCt,
		minKey:         values[0].Key,
		maxKey:         lastKey(values),
	})
	if _, err := file.Write(footer); err != nil {
		return manifest.SegmentMeta{}, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write segment footer").
			WithPath(path).WithSegmentID(id)
	}
	offset += uint64(len(footer))

	if err := file.Sync(); err != nil {
		return manifest.SegmentMeta{}, emberrors.ClassifySyncError(err, s.fileName(id), path, int64(offset))
	}
	complete = true

	return manifest.SegmentMeta{
		ID:             id,
		KeyRange:       kv.KeyRange{Min: values[0].Key, Max: lastKey(values)},
		MinSeqNo:       minSeqNo,
		MaxSeqNo:       maxSeqNo,
		ItemCount:      itemCount,
		TombstoneCount: tombstoneCt,
		FileSize:       offset,
	}, nil
}

// lastKey returns the user key of the final entry in a (key asc, seqno
// desc) ordered slice, which is the largest user key present.
func lastKey(values []kv.InternalValue) []byte {
	return values[len(values)-1].Key
}

// writeBlock writes a length-prefixed payload followed by a trailing
// CRC32 over the payload, and returns the total number of bytes written
// (length prefix + payload + checksum).
func writeBlock(w io.Writer, payload []byte) (int, error) {
	header := make([]byte, 4)
	putU32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}
	crc := make([]byte, 4)
	putU32(crc, crc32.ChecksumIEEE(payload))
	if _, err := w.Write(crc); err != nil {
		return 0, err
	}
	return len(header) + len(payload) + len(crc), nil
}

// encodeEntry appends one InternalValue to buf using the entry wire
// format: kind(1) + seqno(8 BE) + keyLen(2 BE) + key + valueLen(4 BE) +
// value.
func encodeEntry(buf *bytes.Buffer, v kv.InternalValue) {
	var hdr [1 + 8 + 2]byte
	hdr[0] = byte(v.Kind)
	putU64(hdr[1:9], v.SeqNo)
	putU16(hdr[9:11], uint16(len(v.Key)))
	buf.Write(hdr[:])
	buf.Write(v.Key)

	var valLen [4]byte
	putU32(valLen[:], uint32(len(v.Value)))
	buf.Write(valLen[:])
	buf.Write(v.Value)
}

// encodeIndex serializes the sparse block index: count(4 BE), then per
// entry keyLen(2 BE) + key + blockOffset(8 BE) + blockLen(4 BE).
func encodeIndex(entries []indexEntry) []byte {
	var buf bytes.Buffer
	var count [4]byte
	putU32(count[:], uint32(len(entries)))
	buf.Write(count[:])
	for _, e := range entries {
		var hdr [2]byte
		putU16(hdr[:], uint16(len(e.firstKey)))
		buf.Write(hdr[:])
		buf.Write(e.firstKey)
		var rest [12]byte
		putU64(rest[0:8], e.blockOffset)
		putU32(rest[8:12], e.blockLen)
		buf.Write(rest[:])
	}
	return buf.Bytes()
}

// encodeBloom serializes a bloom filter via its own WriteTo encoding.
func encodeBloom(filter *bloom.BloomFilter) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type footerFields struct {
	indexOffset    uint64
	indexLen       uint32
	bloomOffset    uint64
	bloomLen       uint32
	minSeqNo       kv.SeqNo
	maxSeqNo       kv.SeqNo
	itemCount      uint64
	tombstoneCount uint64
	minKey         []byte
	maxKey         []byte
}

// encodeFooter serializes the trailer: magic, version, block locations,
// summary statistics, the key range, a CRC32 over everything before it,
// and finally the footer's own length so a reader can find it from
// end-of-file without scanning forward.
func encodeFooter(f footerFields) []byte {
	var body bytes.Buffer
	body.WriteString(magic)
	body.WriteByte(footerVersion)

	var locs [8 + 4 + 8 + 4]byte
	putU64(locs[0:8], f.indexOffset)
	putU32(locs[8:12], f.indexLen)
	putU64(locs[12:20], f.bloomOffset)
	putU32(locs[20:24], f.bloomLen)
	body.Write(locs[:])

	var stats [8 + 8 + 8 + 8]byte
	putU64(stats[0:8], f.minSeqNo)
	putU64(stats[8:16], f.maxSeqNo)
	putU64(stats[16:24], f.itemCount)
	putU64(stats[24:32], f.tombstoneCount)
	body.Write(stats[:])

	writeLenPrefixed(&body, f.minKey)
	writeLenPrefixed(&body, f.maxKey)

	crc := crc32.ChecksumIEEE(body.Bytes())
	var crcBytes [4]byte
	putU32(crcBytes[:], crc)
	body.Write(crcBytes[:])

	footerLen := uint32(body.Len())
	var lenBytes [4]byte
	putU32(lenBytes[:], footerLen)
	body.Write(lenBytes[:])

	return body.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var hdr [2]byte
	putU16(hdr[:], uint16(len(data)))
	buf.Write(hdr[:])
	buf.Write(data)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}
