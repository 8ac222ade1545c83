package segment

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
)

// Open rehydrates a segment's footer, sparse index, and bloom filter from
// disk and caches the resulting handle, so repeated Get/Range/Open calls
// against the same id reuse one file descriptor. Also hands back a full
// whole-segment Iterator for merges, consumed by the compaction executor
// through its own SegmentStore adapter. The returned iterator holds a
// reference on the handle until it is exhausted, so a Delete racing with
// an in-progress merge cannot reclaim the file out from under it.
func (s *Store) Open(id string) (Iterator, error) {
	h, err := s.handle(id)
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&h.refs, 1)
	return newSegmentIterator(h), nil
}

// handle returns the cached open handle for id, opening and parsing the
// file from disk on first access.
func (s *Store) handle(id string) (*openSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[id]; ok {
		return h, nil
	}

	path := s.pathFor(id)
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, emberrors.ClassifyFileOpenError(err, path, s.fileName(id))
	}

	h, err := parseSegment(id, file)
	if err != nil {
		file.Close()
		return nil, err
	}

	s.handles[id] = h
	return h, nil
}

// parseSegment reads the trailing footer-length, then the footer, index
// block, and bloom block, verifying each block's CRC.
func parseSegment(id string, file *os.File) (*openSegment, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to stat segment file").
			WithSegmentID(id)
	}
	size := stat.Size()
	if size < 4 {
		return nil, corruptionErr(id, "segment file too small to contain a footer length")
	}

	footerLen, err := readU32At(file, size-4)
	if err != nil {
		return nil, err
	}
	if int64(footerLen)+4 > size {
		return nil, corruptionErr(id, "footer length exceeds file size")
	}

	footerStart := size - 4 - int64(footerLen)
	footerBytes := make([]byte, footerLen)
	if _, err := file.ReadAt(footerBytes, footerStart); err != nil {
		return nil, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to read segment footer").
			WithSegmentID(id).WithOffset(footerStart)
	}

	f, err := decodeFooter(id, footerBytes)
	if err != nil {
		return nil, err
	}

	indexBytes, err := readBlock(file, int64(f.indexOffset), f.indexLen, id, "index")
	if err != nil {
		return nil, err
	}
	index, err := decodeIndex(id, indexBytes)
	if err != nil {
		return nil, err
	}

	bloomBytes, err := readBlock(file, int64(f.bloomOffset), f.bloomLen, id, "bloom")
	if err != nil {
		return nil, err
	}
	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(bloomBytes)); err != nil {
		return nil, corruptionErr(id, fmt.Sprintf("failed to decode bloom filter: %v", err))
	}

	return &openSegment{
		id:             id,
		file:           file,
		index:          index,
		bloom:          filter,
		keyRange:       kv.KeyRange{Min: f.minKey, Max: f.maxKey},
		minSeqNo:       f.minSeqNo,
		maxSeqNo:       f.maxSeqNo,
		itemCount:      f.itemCount,
		tombstoneCount: f.tombstoneCount,
		fileSize:       uint64(size),
	}, nil
}

func corruptionErr(id, reason string) *emberrors.CorruptionError {
	return emberrors.NewCorruptionError(nil, emberrors.ErrorCodeSegmentCorrupted, reason).
		WithDetail("segmentID", id)
}

func readU32At(file *os.File, off int64) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := file.ReadAt(buf, off); err != nil {
		return 0, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to read segment trailer").
			WithOffset(off)
	}
	return getU32(buf), nil
}

// readBlock reads a length-prefixed-and-checksummed block written by
// writeBlock and verifies its CRC.
func readBlock(file *os.File, offset int64, blockLen uint32, id, what string) ([]byte, error) {
	total := 4 + int64(blockLen) + 4
	raw := make([]byte, total)
	if _, err := file.ReadAt(raw, offset); err != nil {
		return nil, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to read segment "+what+" block").
			WithSegmentID(id).WithOffset(offset)
	}

	storedLen := getU32(raw[0:4])
	if storedLen != blockLen {
		return nil, corruptionErr(id, fmt.Sprintf("%s block length mismatch: footer says %d, block header says %d", what, blockLen, storedLen))
	}

	payload := raw[4 : 4+blockLen]
	gotCRC := crc32.ChecksumIEEE(payload)
	wantCRC := getU32(raw[4+blockLen:])
	if gotCRC != wantCRC {
		return nil, corruptionErr(id, fmt.Sprintf("%s block checksum mismatch", what))
	}

	return payload, nil
}

type footerFieldsDecoded struct {
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

func decodeFooter(id string, data []byte) (*footerFieldsDecoded, error) {
	// data excludes the trailing 4-byte footer length (caller already used
	// it to compute the slice), but includes the trailing CRC32.
	if len(data) < 4 {
		return nil, corruptionErr(id, "footer too short")
	}
	body, storedCRC := data[:len(data)-4], getU32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != storedCRC {
		return nil, corruptionErr(id, "footer checksum mismatch")
	}

	if len(body) < len(magic)+1 {
		return nil, corruptionErr(id, "footer shorter than fixed header")
	}
	if string(body[:len(magic)]) != magic {
		return nil, corruptionErr(id, "bad segment magic")
	}
	pos := len(magic)
	version := body[pos]
	pos++
	if version != footerVersion {
		return nil, corruptionErr(id, fmt.Sprintf("unsupported segment footer version %d", version))
	}

	need := 8 + 4 + 8 + 4 + 8 + 8 + 8 + 8
	if len(body) < pos+need {
		return nil, corruptionErr(id, "footer truncated before fixed fields")
	}

	f := &footerFieldsDecoded{}
	f.indexOffset = getU64(body[pos : pos+8])
	pos += 8
	f.indexLen = getU32(body[pos : pos+4])
	pos += 4
	f.bloomOffset = getU64(body[pos : pos+8])
	pos += 8
	f.bloomLen = getU32(body[pos : pos+4])
	pos += 4
	f.minSeqNo = getU64(body[pos : pos+8])
	pos += 8
	f.maxSeqNo = getU64(body[pos : pos+8])
	pos += 8
	f.itemCount = getU64(body[pos : pos+8])
	pos += 8
	f.tombstoneCount = getU64(body[pos : pos+8])
	pos += 8

	minKey, n, err := readLenPrefixed(id, body, pos)
	if err != nil {
		return nil, err
	}
	pos += n
	maxKey, n, err := readLenPrefixed(id, body, pos)
	if err != nil {
		return nil, err
	}
	pos += n
	f.minKey, f.maxKey = minKey, maxKey

	return f, nil
}

func readLenPrefixed(id string, body []byte, pos int) ([]byte, int, error) {
	if len(body) < pos+2 {
		return nil, 0, corruptionErr(id, "footer truncated before length-prefixed field")
	}
	l := int(getU16(body[pos : pos+2]))
	pos += 2
	if len(body) < pos+l {
		return nil, 0, corruptionErr(id, "footer truncated inside length-prefixed field")
	}
	return append([]byte(nil), body[pos:pos+l]...), 2 + l, nil
}

func decodeIndex(id string, data []byte) ([]indexEntry, error) {
	if len(data) < 4 {
		return nil, corruptionErr(id, "index block too short")
	}
	count := getU32(data[:4])
	pos := 4

	var entries []indexEntry
	for i := uint32(0); i < count; i++ {
		if len(data) < pos+2 {
			return nil, corruptionErr(id, "index block truncated before key length")
		}
		keyLen := int(getU16(data[pos : pos+2]))
		pos += 2
		if len(data) < pos+keyLen+12 {
			return nil, corruptionErr(id, "index block truncated inside entry")
		}
		key := append([]byte(nil), data[pos:pos+keyLen]...)
		pos += keyLen
		offset := getU64(data[pos : pos+8])
		blockLen := getU32(data[pos+8 : pos+12])
		pos += 12
		entries = append(entries, indexEntry{firstKey: key, blockOffset: offset, blockLen: blockLen})
	}
	return entries, nil
}

// decodeEntries parses a data block's payload into its InternalValues.
func decodeEntries(id string, payload []byte) ([]kv.InternalValue, error) {
	var values []kv.InternalValue
	pos := 0
	for pos < len(payload) {
		if len(payload) < pos+11 {
			return nil, corruptionErr(id, "data block truncated before entry header")
		}
		kind := kv.ValueKind(payload[pos])
		seqNo := getU64(payload[pos+1 : pos+9])
		keyLen := int(getU16(payload[pos+9 : pos+11]))
		pos += 11
		if len(payload) < pos+keyLen+4 {
			return nil, corruptionErr(id, "data block truncated inside entry key")
		}
		key := payload[pos : pos+keyLen]
		pos += keyLen
		valLen := int(getU32(payload[pos : pos+4]))
		pos += 4
		if len(payload) < pos+valLen {
			return nil, corruptionErr(id, "data block truncated inside entry value")
		}
		value := payload[pos : pos+valLen]
		pos += valLen

		values = append(values, kv.InternalValue{
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), value...),
			SeqNo: seqNo,
			Kind:  kind,
		})
	}
	return values, nil
}

// block loads and decodes the blockIndex-th data block of h, consulting
// (and populating) the shared store cache.
func (s *Store) block(h *openSegment, blockIndex int) ([]kv.InternalValue, error) {
	key := blockKey{segmentID: h.id, blockIndex: blockIndex}
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	entry := h.index[blockIndex]
	payload, err := readBlock(h.file, int64(entry.blockOffset), entry.blockLen, h.id, "data")
	if err != nil {
		return nil, err
	}
	values, err := decodeEntries(h.id, payload)
	if err != nil {
		return nil, err
	}

	s.cache.Add(key, values)
	return values, nil
}

// blockFor returns the index of the last block whose first key is <=
// key, or -1 if key sorts before every block.
func blockFor(index []indexEntry, key []byte) int {
	i := sort.Search(len(index), func(i int) bool {
		return bytes.Compare(index[i].firstKey, key) > 0
	})
	return i - 1
}

// Get performs a bloom-filtered point lookup: the newest version of key
// with SeqNo <= maxSeqNo, if any version of key is present in this
// segment at all.
func (s *Store) Get(id string, key []byte, maxSeqNo kv.SeqNo) (kv.InternalValue, bool, error) {
	h, err := s.handle(id)
	if err != nil {
		return kv.InternalValue{}, false, err
	}

	if !h.keyRange.Contains(key) {
		return kv.InternalValue{}, false, nil
	}
	if h.bloom != nil && !h.bloom.Test(key) {
		return kv.InternalValue{}, false, nil
	}

	idx := blockFor(h.index, key)
	if idx < 0 {
		return kv.InternalValue{}, false, nil
	}

	values, err := s.block(h, idx)
	if err != nil {
		return kv.InternalValue{}, false, err
	}

	for _, v := range values {
		if !bytes.Equal(v.Key, key) {
			continue
		}
		if v.SeqNo <= maxSeqNo {
			return v, true, nil
		}
	}
	return kv.InternalValue{}, false, nil
}

// Range returns an iterator over every entry within bounds whose SeqNo is
// <= maxSeqNo, in the segment's natural (key asc, seqno desc) order.
// Multiple versions of the same key may be yielded; the caller (the
// partition's merged read iterator) is responsible for picking the
// newest visible version per key across every source it merges. The
// returned iterator holds a reference on the handle until it is
// exhausted, the same protection Open gives the compaction path.
func (s *Store) Range(id string, bounds kv.Bounds, maxSeqNo kv.SeqNo) (Iterator, error) {
	h, err := s.handle(id)
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&h.refs, 1)

	startBlock := 0
	if bounds.Start != nil {
		if b := blockFor(h.index, bounds.Start); b > 0 {
			startBlock = b
		}
	}

	return &rangeIterator{
		store:      s,
		h:          h,
		bounds:     bounds,
		maxSeqNo:   maxSeqNo,
		blockIndex: startBlock,
	}, nil
}

// Delete queues a segment for deletion once it is safe to unlink: it is
// not removed synchronously, since a Range/Open in flight against it may
// still hold a reference, and an open snapshot whose seqno falls at or
// below the segment's max_seqno may still need to read through it.
// Called once a compaction's source segments have been atomically
// swapped out of the manifest; Reclaim performs the actual unlink.
func (s *Store) Delete(id string) error {
	h, err := s.handle(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = h.maxSeqNo
	return nil
}

// Reclaim unlinks every pending-delete segment whose last iterator has
// released its reference and whose max_seqno no longer falls at or
// below any live snapshot's seqno. Safe to call with nothing pending,
// and typically called right after Delete following a compaction swap
// so earlier rounds' leftovers get a chance to clear too.
func (s *Store) Reclaim(snapshots SnapshotProvider) error {
	minLive, haveLive := kv.SeqNo(0), false
	if snapshots != nil {
		for _, seqNo := range snapshots.LiveSnapshots() {
			if !haveLive || seqNo < minLive {
				minLive, haveLive = seqNo, true
			}
		}
	}

	s.mu.Lock()
	var ready []string
	for id, maxSeqNo := range s.pending {
		if h, open := s.handles[id]; open && atomic.LoadInt32(&h.refs) > 0 {
			continue
		}
		if haveLive && minLive <= maxSeqNo {
			continue
		}
		ready = append(ready, id)
	}
	for _, id := range ready {
		delete(s.pending, id)
		if h, ok := s.handles[id]; ok {
			delete(s.handles, id)
			for i := range h.index {
				s.cache.Remove(blockKey{segmentID: id, blockIndex: i})
			}
			h.file.Close()
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ready {
		path := s.pathFor(id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to delete segment file").
				WithSegmentID(id).WithPath(path)
		}
	}
	return firstErr
}

func getU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
