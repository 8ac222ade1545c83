package segment

import (
	"sync/atomic"

	"github.com/emberdb/emberdb/internal/kv"
)

// segmentIterator streams every entry of a segment, in order, with no
// bounds or seqno filtering — used by the compaction executor, which
// needs every version of every key to run its snapshot-stripe collapse.
// Holds one reference on its handle, released once exhausted or Closed.
type segmentIterator struct {
	h          *openSegment
	blockIndex int
	current    []kv.InternalValue
	pos        int
	err        error
	released   bool
}

func newSegmentIterator(h *openSegment) *segmentIterator {
	return &segmentIterator{h: h}
}

func (it *segmentIterator) Next() (kv.InternalValue, bool) {
	for it.pos >= len(it.current) {
		if it.blockIndex >= len(it.h.index) || it.err != nil {
			it.release()
			return kv.InternalValue{}, false
		}
		payload, err := readBlock(it.h.file, int64(it.h.index[it.blockIndex].blockOffset), it.h.index[it.blockIndex].blockLen, it.h.id, "data")
		if err != nil {
			it.err = err
			it.release()
			return kv.InternalValue{}, false
		}
		values, err := decodeEntries(it.h.id, payload)
		if err != nil {
			it.err = err
			it.release()
			return kv.InternalValue{}, false
		}
		it.current = values
		it.pos = 0
		it.blockIndex++
	}

	v := it.current[it.pos]
	it.pos++
	return v, true
}

// Err reports any decode or I/O error encountered while iterating.
func (it *segmentIterator) Err() error {
	return it.err
}

// Close releases this iterator's reference on its segment handle early,
// for a caller that abandons it before exhausting it. Safe to call more
// than once, and after Next has already exhausted the iterator.
func (it *segmentIterator) Close() {
	it.release()
}

func (it *segmentIterator) release() {
	if it.released {
		return
	}
	it.released = true
	atomic.AddInt32(&it.h.refs, -1)
}

// rangeIterator streams entries within bounds whose SeqNo is <= maxSeqNo,
// reading blocks through the store's shared cache and stopping as soon as
// a decoded entry sorts past the bounds' end. Holds one reference on its
// handle, released once exhausted or Closed.
type rangeIterator struct {
	store      *Store
	h          *openSegment
	bounds     kv.Bounds
	maxSeqNo   kv.SeqNo
	blockIndex int
	current    []kv.InternalValue
	pos        int
	done       bool
	err        error
	released   bool
}

func (it *rangeIterator) Next() (kv.InternalValue, bool) {
	if it.done {
		return kv.InternalValue{}, false
	}

	for {
		for it.pos < len(it.current) {
			v := it.current[it.pos]
			it.pos++

			if boundsPastEnd(it.bounds, v.Key) {
				it.done = true
				it.release()
				return kv.InternalValue{}, false
			}
			if !it.bounds.Contains(v.Key) {
				continue
			}
			if v.SeqNo > it.maxSeqNo {
				continue
			}
			return v, true
		}

		if it.blockIndex >= len(it.h.index) {
			it.done = true
			it.release()
			return kv.InternalValue{}, false
		}

		values, err := it.store.block(it.h, it.blockIndex)
		if err != nil {
			it.err = err
			it.done = true
			it.release()
			return kv.InternalValue{}, false
		}
		it.current = values
		it.pos = 0
		it.blockIndex++
	}
}

// Err reports any decode or I/O error encountered while iterating.
func (it *rangeIterator) Err() error {
	return it.err
}

// Close releases this iterator's reference on its segment handle early,
// for a caller that abandons a range scan before it is exhausted. Safe
// to call more than once, and after Next has already exhausted it.
func (it *rangeIterator) Close() {
	it.release()
}

func (it *rangeIterator) release() {
	if it.released {
		return
	}
	it.released = true
	atomic.AddInt32(&it.h.refs, -1)
}

// boundsPastEnd reports whether key sorts at or past the bounds' open
// upper end, letting a range scan stop early instead of reading every
// remaining block of a segment.
func boundsPastEnd(b kv.Bounds, key []byte) bool {
	return b.End != nil && string(key) >= string(b.End)
}
