package compaction

import (
	"container/heap"
	"sort"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
)

// Iterator yields InternalValues in ascending-key, descending-seqno order,
// the same ordering a segment file's block layout guarantees and a
// memtable's skip list produces.
type Iterator interface {
	Next() (kv.InternalValue, bool)
}

// SegmentStore is the subset of the segment store the executor needs:
// open an existing segment for reading during a merge, write a freshly
// merged stream to a new segment, queue a superseded segment (or one
// whose write failed partway) for deletion, and reclaim whatever in
// that queue has become safe to unlink.
type SegmentStore interface {
	Open(id string) (Iterator, error)
	Write(it Iterator) (manifest.SegmentMeta, error)
	Delete(id string) error
	Reclaim(snapshots SnapshotProvider) error
}

// SnapshotProvider reports the sequence numbers of currently open
// snapshots, so the merge can preserve a version of a key visible to each
// one instead of collapsing everything down to the newest write.
type SnapshotProvider interface {
	LiveSnapshots() []kv.SeqNo
}

// Executor carries out compactions chosen by a Strategy against a
// partition's levels manifest and segment store.
type Executor struct {
	Store    SegmentStore
	Strategy Strategy
}

// NewExecutor creates an Executor.
func NewExecutor(store SegmentStore, strategy Strategy) *Executor {
	return &Executor{Store: store, Strategy: strategy}
}

// RunOnce asks the strategy for a decision and, if it wants to compact,
// carries it out: hide the sources, merge them, and atomically swap the
// result in. Reports whether a compaction ran. Any failure un-hides the
// sources and discards a partially written output segment, leaving the
// manifest untouched so the next call can retry. Segments removed by a
// successful swap are queued for deletion rather than unlinked in place,
// since an in-flight reader may still hold an open iterator over one or
// a live snapshot may still need to read through it; Reclaim is given a
// chance to catch up on the queue (including any leftover from earlier
// rounds) once the swap lands.
func (e *Executor) RunOnce(levels *manifest.Levels, snapshots SnapshotProvider) (bool, error) {
	view := levels.ResolvedView()
	decision := e.Strategy.Choose(view)
	if !decision.Compact {
		return false, nil
	}

	if err := levels.Hide(decision.SegmentIDs); err != nil {
		return false, err
	}

	isBaseLevel := decision.DestLevel == levels.LevelCount()-1
	merged, err := e.merge(decision.SegmentIDs, snapshots, isBaseLevel)
	if err != nil {
		levels.Unhide(decision.SegmentIDs)
		return false, err
	}

	var added []manifest.SegmentMeta
	if merged != nil {
		added = []manifest.SegmentMeta{*merged}
	}

	if err := levels.AtomicSwap(decision.SegmentIDs, added, decision.DestLevel); err != nil {
		levels.Unhide(decision.SegmentIDs)
		if merged != nil {
			_ = e.Store.Delete(merged.ID)
		}
		return false, err
	}

	for _, id := range decision.SegmentIDs {
		_ = e.Store.Delete(id)
	}

	if err := e.Store.Reclaim(snapshots); err != nil {
		return true, err
	}

	return true, nil
}

// merge opens every source segment, streams their entries through a k-way
// merge in global (key asc, seqno desc) order, collapses entries within
// each snapshot stripe per key, elides droppable tombstones when
// isBaseLevel is true, and writes the result as one new segment. A merge
// that produces no surviving entries (every input key was a tombstone
// eligible for elision) returns a nil meta and no error.
func (e *Executor) merge(segmentIDs []string, snapshots SnapshotProvider, isBaseLevel bool) (*manifest.SegmentMeta, error) {
	sources := make([]Iterator, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		it, err := e.Store.Open(id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, it)
	}

	collapsed := newStripeCollapser(mergeIterators(sources), snapshots, isBaseLevel)

	meta, err := e.Store.Write(collapsed)
	if err != nil {
		return nil, err
	}
	if meta.ItemCount == 0 {
		return nil, nil
	}
	return &meta, nil
}

// heapIter is a k-way merge over sources in global ascending-key,
// descending-seqno order, grounded on the merging-iterator idiom
// compactionIter wraps to present one logical stream to its collapsing
// pass.
type heapIter struct {
	h *mergeHeap
}

type heapItem struct {
	value  kv.InternalValue
	source Iterator
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return kv.Compare(h[i].value, h[j].value) < 0
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func mergeIterators(sources []Iterator) Iterator {
	h := &mergeHeap{}
	heap.Init(h)
	for _, src := range sources {
		if v, ok := src.Next(); ok {
			heap.Push(h, heapItem{value: v, source: src})
		}
	}
	return &heapIter{h: h}
}

func (it *heapIter) Next() (kv.InternalValue, bool) {
	if it.h.Len() == 0 {
		return kv.InternalValue{}, false
	}
	top := heap.Pop(it.h).(heapItem)
	if v, ok := top.source.Next(); ok {
		heap.Push(it.h, heapItem{value: v, source: top.source})
	}
	return top.value, true
}

// stripeCollapser groups the merged stream by user key and, within each
// group, by the snapshot stripe each entry's seqno falls into, emitting
// at most one entry per stripe per key. A stripe is the half-open seqno
// range between two adjacent live snapshot seqnos (or the ends of seqno
// space); collapsing within a stripe but not across one is what lets a
// compaction shrink redundant versions without breaking a snapshot read
// in progress.
type stripeCollapser struct {
	src         Iterator
	boundaries  []kv.SeqNo // live snapshot seqnos, descending
	isBaseLevel bool

	pending    []kv.InternalValue
	pendingIdx int

	buffered   kv.InternalValue
	hasBuffered bool
	exhausted   bool
}

func newStripeCollapser(src Iterator, snapshots SnapshotProvider, isBaseLevel bool) *stripeCollapser {
	var boundaries []kv.SeqNo
	if snapshots != nil {
		boundaries = append(boundaries, snapshots.LiveSnapshots()...)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] > boundaries[j] })

	return &stripeCollapser{src: src, boundaries: boundaries, isBaseLevel: isBaseLevel}
}

func (c *stripeCollapser) Next() (kv.InternalValue, bool) {
	for c.pendingIdx >= len(c.pending) {
		if !c.fillGroup() {
			return kv.InternalValue{}, false
		}
	}
	v := c.pending[c.pendingIdx]
	c.pendingIdx++
	return v, true
}

func (c *stripeCollapser) pull() (kv.InternalValue, bool) {
	if c.hasBuffered {
		c.hasBuffered = false
		return c.buffered, true
	}
	if c.exhausted {
		return kv.InternalValue{}, false
	}
	v, ok := c.src.Next()
	if !ok {
		c.exhausted = true
		return kv.InternalValue{}, false
	}
	return v, true
}

func (c *stripeCollapser) pushback(v kv.InternalValue) {
	c.buffered = v
	c.hasBuffered = true
}

// fillGroup collapses the next user key's full descending-seqno run into
// c.pending, one surviving entry per snapshot stripe, dropping a
// droppable tombstone in the oldest stripe when isBaseLevel is set.
// Returns false once the source is exhausted.
func (c *stripeCollapser) fillGroup() bool {
	c.pending = c.pending[:0]
	c.pendingIdx = 0

	first, ok := c.pull()
	if !ok {
		return false
	}
	key := first.Key

	// Start past every boundary the first entry already sits at or below,
	// so a later entry in the same stripe is treated as redundant.
	boundaryIdx := 0
	for boundaryIdx < len(c.boundaries) && first.SeqNo <= c.boundaries[boundaryIdx] {
		boundaryIdx++
	}
	winner := first
	haveWinner := true

	// A winner is in the oldest stripe when its seqno falls below every
	// live snapshot, i.e. no snapshot can still be depending on it to
	// shadow an older version of this key. This must be checked against
	// winner.SeqNo directly each time flush runs, not inferred from
	// whether the source happened to run out of entries for this key:
	// a key's run can end with its surviving entry still above the
	// oldest live snapshot, in which case its tombstone is not yet
	// droppable even on the base level.
	oldestStripe := func() bool {
		if len(c.boundaries) == 0 {
			return true
		}
		return winner.SeqNo < c.boundaries[len(c.boundaries)-1]
	}

	flush := func() {
		if !haveWinner {
			return
		}
		if oldestStripe() && c.isBaseLevel && winner.IsTombstone() {
			haveWinner = false
			return
		}
		c.pending = append(c.pending, winner)
		haveWinner = false
	}

	for {
		entry, ok := c.pull()
		if !ok || !sameKey(entry, key) {
			flush()
			if ok {
				c.pushback(entry)
			}
			return true
		}

		for boundaryIdx < len(c.boundaries) && entry.SeqNo <= c.boundaries[boundaryIdx] {
			flush()
			boundaryIdx++
		}
		if !haveWinner {
			winner = entry
			haveWinner = true
		}
		// else: entry falls in the same open stripe as the current winner —
		// an older, now-redundant version, and is dropped.
	}
}

func sameKey(v kv.InternalValue, key []byte) bool {
	return string(v.Key) == string(key)
}
