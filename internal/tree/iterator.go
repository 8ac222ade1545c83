package tree

import (
	"container/heap"
	"sort"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/emberdb/emberdb/internal/memtable"
)

// Iterator yields InternalValues in ascending-key order, with tombstones
// already filtered out — callers never see a deleted key.
type Iterator interface {
	Next() (kv.InternalValue, bool)
}

// sliceIterator adapts an in-memory slice, already in (key asc, seqno
// desc) order, to the Iterator interface expected by segment.Store.Write
// and the merge below.
type sliceIterator struct {
	values []kv.InternalValue
	pos    int
}

func (s *sliceIterator) Next() (kv.InternalValue, bool) {
	if s.pos >= len(s.values) {
		return kv.InternalValue{}, false
	}
	v := s.values[s.pos]
	s.pos++
	return v, true
}

// filterBySeqNo drops entries newer than maxSeqNo from an already-sorted
// slice, used for memtable sources (Iter/Range have no maxSeqNo
// parameter of their own, unlike segment.Store.Get/Range).
func filterBySeqNo(values []kv.InternalValue, maxSeqNo kv.SeqNo) []kv.InternalValue {
	if maxSeqNo == kv.MaxSeqNo {
		return values
	}
	out := values[:0:0]
	for _, v := range values {
		if v.SeqNo <= maxSeqNo {
			out = append(out, v)
		}
	}
	return out
}

// mergeSource is one ordered stream feeding the k-way merge, tagged with
// a priority (lower value wins ties) so that, when two sources produce
// the exact same (key, seqno) pair — which cannot happen under a single
// shared seqno minter, but costs nothing to break ties on
// deterministically — the source assigned earlier (active, then sealed
// newest-first, then L0 newest-first, then higher levels) wins.
type mergeSource struct {
	it       Iterator
	priority int
}

// heapItem is one buffered-ahead value from a merge source, ordered by
// kv.Compare with priority as a tiebreaker.
type heapItem struct {
	value    kv.InternalValue
	priority int
	source   int
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := kv.Compare(h[i].value, h[j].value)
	if c != 0 {
		return c < 0
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeIterator performs a k-way merge across every source in (key asc,
// seqno desc) order, then collapses all versions of a key down to the
// newest one and drops tombstones, so Next only ever returns live,
// deduplicated entries. Grounded on the heap-merge idiom used by the
// compaction package's segment merge, reimplemented locally so the read
// path does not depend on internal/compaction.
type mergeIterator struct {
	sources []mergeSource
	h       mergeHeap
	started bool
}

func newMergeIterator(sources []mergeSource) *mergeIterator {
	return &mergeIterator{sources: sources}
}

func (m *mergeIterator) fill() {
	m.h = make(mergeHeap, 0, len(m.sources))
	for i, s := range m.sources {
		if v, ok := s.it.Next(); ok {
			heap.Push(&m.h, heapItem{value: v, priority: s.priority, source: i})
		}
	}
	heap.Init(&m.h)
	m.started = true
}

// next returns the single lowest-ordered value across all sources,
// including duplicate keys and tombstones; callers collapse those.
func (m *mergeIterator) next() (kv.InternalValue, bool) {
	if !m.started {
		m.fill()
	}
	if m.h.Len() == 0 {
		return kv.InternalValue{}, false
	}
	top := heap.Pop(&m.h).(heapItem)
	if v, ok := m.sources[top.source].it.Next(); ok {
		heap.Push(&m.h, heapItem{value: v, priority: m.sources[top.source].priority, source: top.source})
	}
	return top.value, true
}

// Next returns the next live, deduplicated entry: the newest version of
// each key that isn't a tombstone, skipping every older version and
// every deleted key.
func (m *mergeIterator) Next() (kv.InternalValue, bool) {
	for {
		v, ok := m.next()
		if !ok {
			return kv.InternalValue{}, false
		}

		for {
			peeked, hasMore := m.peekSameKey(v.Key)
			if !hasMore {
				break
			}
			m.next()
			_ = peeked
		}

		if v.IsTombstone() {
			continue
		}
		return v, true
	}
}

// peekSameKey reports whether the heap's current top shares key with v,
// without removing it; used only to decide whether to drain the
// duplicate via the next call to m.next().
func (m *mergeIterator) peekSameKey(key []byte) (kv.InternalValue, bool) {
	if m.h.Len() == 0 {
		return kv.InternalValue{}, false
	}
	top := m.h[0].value
	if string(top.Key) != string(key) {
		return kv.InternalValue{}, false
	}
	return top, true
}

// Range returns a merged view of every source — active memtable, sealed
// memtables newest-to-oldest, level 0 segments, and levels >= 1 — over
// bounds as visible at snapshot, already deduplicated with tombstones
// removed.
func (t *Tree) Range(bounds kv.Bounds, snapshot kv.SeqNo) (Iterator, error) {
	t.mu.RLock()
	active := t.active
	sealed := make([]*memtable.Memtable, len(t.sealed))
	for i, s := range t.sealed {
		sealed[i] = s.table
	}
	t.mu.RUnlock()

	var sources []mergeSource
	priority := 0

	// Active memtable is the newest source: highest priority.
	priority++
	sources = append(sources, mergeSource{
		it:       &sliceIterator{values: filterBySeqNo(active.Range(bounds), snapshot)},
		priority: priority,
	})

	// Sealed memtables, newest-first by priority (most recently sealed
	// ranks just below active).
	for i := len(sealed) - 1; i >= 0; i-- {
		priority++
		sources = append(sources, mergeSource{
			it:       &sliceIterator{values: filterBySeqNo(sealed[i].Range(bounds), snapshot)},
			priority: priority,
		})
	}

	levels := t.levels.Snapshot()
	if len(levels) > 0 {
		l0 := append([]manifest.SegmentMeta(nil), levels[0].Segments...)
		sortByMaxSeqNoDescLocal(l0)
		for _, seg := range l0 {
			if !bounds.OverlapsRange(seg.KeyRange) {
				continue
			}
			it, err := t.segments.Range(seg.ID, bounds, snapshot)
			if err != nil {
				return nil, err
			}
			priority++
			sources = append(sources, mergeSource{it: segmentIteratorAdapter{it}, priority: priority})
		}
	}

	for level := 1; level < len(levels); level++ {
		for _, seg := range levels[level].Segments {
			if !bounds.OverlapsRange(seg.KeyRange) {
				continue
			}
			it, err := t.segments.Range(seg.ID, bounds, snapshot)
			if err != nil {
				return nil, err
			}
			priority++
			sources = append(sources, mergeSource{it: segmentIteratorAdapter{it}, priority: priority})
		}
	}

	return newMergeIterator(sources), nil
}

// sortByMaxSeqNoDescLocal orders level 0 segments newest-first by
// MaxSeqNo, matching the point-read path's probe order; ties are broken
// arbitrarily since the merge heap's priority already distinguishes them.
func sortByMaxSeqNoDescLocal(segs []manifest.SegmentMeta) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].MaxSeqNo > segs[j].MaxSeqNo })
}

// segmentIteratorAdapter adapts segment.Iterator (identical method set)
// to this package's Iterator without importing the segment package's
// type name into the merge heap's plumbing.
type segmentIteratorAdapter struct {
	it interface {
		Next() (kv.InternalValue, bool)
	}
}

func (a segmentIteratorAdapter) Next() (kv.InternalValue, bool) {
	return a.it.Next()
}
