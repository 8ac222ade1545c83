// Package memtable implements the in-memory ordered write buffer shared
// by every partition's active and sealed memtable slots. It is backed by
// a skip list so inserts, point lookups, and range scans are all
// O(log n) without requiring a global rebalance on write, matching the
// "read-mostly ordered map... or a lock-free skiplist" contract the
// engine asks of its memtable.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/huandu/skiplist"
)

// internalKey is the skip list's Comparable: it orders entries ascending
// by user key, then descending by seqno, so the newest version of a key
// is the first one a forward iteration encounters.
type internalKey struct {
	key   []byte
	seqNo kv.SeqNo
}

// Compare implements skiplist.Comparable.
func (k internalKey) Compare(other any) int {
	o := other.(internalKey)
	return kv.CompareKeySeqNo(k.key, k.seqNo, o.key, o.seqNo)
}

// CalcScore implements skiplist.Comparable. huandu/skiplist only uses the
// score as a fast pre-comparison hint; returning 0 for every key forces
// it to fall back to Compare, which is the only ordering that matters
// here.
func (k internalKey) CalcScore() float64 {
	return 0
}

// entry is the value stored alongside each internalKey node.
type entry struct {
	value []byte
	kind  kv.ValueKind
}

// Memtable is an ordered, concurrent-safe map from (user-key, seqno) to
// (value, kind). It is append-only from the outside: callers only ever
// insert, never mutate or remove an existing entry.
type Memtable struct {
	list            *skiplist.SkipList
	approximateSize atomic.Int64
}

// New creates an empty Memtable.
func New() *Memtable {
	return &Memtable{list: skiplist.New(internalKey{})}
}

// Insert adds value under (Key, SeqNo), updating approximate_size by the
// entry's key+value length. Re-inserting an existing (key, seqno) pair is
// a no-op, matching the memtable's idempotence contract.
func (m *Memtable) Insert(value kv.InternalValue) {
	ik := internalKey{key: value.Key, seqNo: value.SeqNo}
	if m.list.Get(ik) != nil {
		return
	}
	m.list.Set(ik, entry{value: value.Value, kind: value.Kind})
	m.approximateSize.Add(int64(len(value.Key) + len(value.Value)))
}

// Get returns the newest entry for userKey with SeqNo <= maxSeqNo (or
// unrestricted if maxSeqNo is kv.MaxSeqNo), including tombstones — the
// caller decides how to interpret them.
func (m *Memtable) Get(userKey []byte, maxSeqNo kv.SeqNo) (kv.InternalValue, bool) {
	elem := m.list.Find(internalKey{key: userKey, seqNo: maxSeqNo})
	for elem != nil {
		ik := elem.Key().(internalKey)
		if !bytes.Equal(ik.key, userKey) {
			return kv.InternalValue{}, false
		}
		if ik.seqNo <= maxSeqNo {
			e := elem.Value.(entry)
			return kv.InternalValue{Key: ik.key, Value: e.value, SeqNo: ik.seqNo, Kind: e.kind}, true
		}
		elem = elem.Next()
	}
	return kv.InternalValue{}, false
}

// Len returns the number of entries in the memtable.
func (m *Memtable) Len() int {
	return m.list.Len()
}

// SizeInBytes returns the approximate byte size of all contained entries.
func (m *Memtable) SizeInBytes() int64 {
	return m.approximateSize.Load()
}

// Iter returns every entry in (key asc, seqno desc) order.
func (m *Memtable) Iter() []kv.InternalValue {
	out := make([]kv.InternalValue, 0, m.list.Len())
	for elem := m.list.Front(); elem != nil; elem = elem.Next() {
		ik := elem.Key().(internalKey)
		e := elem.Value.(entry)
		out = append(out, kv.InternalValue{Key: ik.key, Value: e.value, SeqNo: ik.seqNo, Kind: e.kind})
	}
	return out
}

// Range returns every entry whose key falls within bounds, in (key asc,
// seqno desc) order.
func (m *Memtable) Range(bounds kv.Bounds) []kv.InternalValue {
	out := make([]kv.InternalValue, 0)

	var start *skiplist.Element
	if bounds.Start != nil {
		start = m.list.Find(internalKey{key: bounds.Start, seqNo: kv.MaxSeqNo})
	} else {
		start = m.list.Front()
	}

	for elem := start; elem != nil; elem = elem.Next() {
		ik := elem.Key().(internalKey)
		if bounds.End != nil && bytes.Compare(ik.key, bounds.End) >= 0 {
			break
		}
		if !bounds.Contains(ik.key) {
			continue
		}
		e := elem.Value.(entry)
		out = append(out, kv.InternalValue{Key: ik.key, Value: e.value, SeqNo: ik.seqNo, Kind: e.kind})
	}
	return out
}

// Prefix returns every entry whose key starts with p, in (key asc,
// seqno desc) order.
func (m *Memtable) Prefix(p []byte) []kv.InternalValue {
	return m.Range(kv.PrefixBounds(p))
}
