// Package tree implements the per-partition LSM tree: an active memtable
// taking writes, a queue of sealed memtables awaiting flush, and the
// partition's levels manifest and segment store for everything already
// on disk. A keyspace holds one Tree per partition, all sharing one
// journal and one SnapshotCounter.
package tree

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/emberdb/emberdb/internal/memtable"
	"github.com/emberdb/emberdb/internal/segment"
)

// sealedEntry pairs a sealed memtable with the journal offset recorded
// when it was sealed: everything appended to the journal before that
// offset is already covered by this memtable or an older one.
type sealedEntry struct {
	table         *memtable.Memtable
	journalOffset int64
}

// Tree is one partition's LSM tree.
type Tree struct {
	name string

	mu     sync.RWMutex
	active *memtable.Memtable
	sealed []sealedEntry

	levels   *manifest.Levels
	segments *segment.Store

	snapshots *SnapshotCounter

	maxMemtableSize uint64
	flushRequested  atomic.Bool

	log *zap.SugaredLogger
}

// Config holds the parameters needed to construct a Tree.
type Config struct {
	Name            string
	Levels          *manifest.Levels
	Segments        *segment.Store
	Snapshots       *SnapshotCounter
	MaxMemtableSize uint64
	Logger          *zap.SugaredLogger
}

// New creates a Tree with a fresh, empty active memtable.
func New(config *Config) *Tree {
	return &Tree{
		name:            config.Name,
		active:          memtable.New(),
		levels:          config.Levels,
		segments:        config.Segments,
		snapshots:       config.Snapshots,
		maxMemtableSize: config.MaxMemtableSize,
		log:             config.Logger,
	}
}

// Insert writes value into the active memtable. Returns true the first
// time the active memtable crosses its size threshold, signaling the
// caller (the keyspace's background flush loop, or the write path
// itself) that a Seal is due; the flag is latched so a burst of inserts
// past the threshold only requests one seal.
func (t *Tree) Insert(value kv.InternalValue) bool {
	t.mu.Lock()
	t.active.Insert(value)
	crossed := uint64(t.active.SizeInBytes()) >= t.maxMemtableSize
	t.mu.Unlock()

	if crossed {
		return t.flushRequested.CompareAndSwap(false, true)
	}
	return false
}

// FlushRequested reports whether Seal is due, without clearing the flag.
func (t *Tree) FlushRequested() bool {
	return t.flushRequested.Load()
}

// Seal swaps the active memtable for a fresh one and queues the sealed
// one for flush, recording the journal offset at the moment of sealing.
// Clears the flush-requested flag, since the condition that set it no
// longer describes the (now empty) active memtable.
func (t *Tree) Seal(journalOffset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sealed = append(t.sealed, sealedEntry{table: t.active, journalOffset: journalOffset})
	t.active = memtable.New()
	t.flushRequested.Store(false)
}

// OldestSealedJournalOffset returns the journal offset recorded for the
// oldest still-unflushed sealed memtable, used by the keyspace to decide
// how far the shared journal can be truncated.
func (t *Tree) OldestSealedJournalOffset() (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.sealed) == 0 {
		return 0, false
	}
	return t.sealed[0].journalOffset, true
}

// SealedCount returns the number of sealed memtables awaiting flush,
// used by the keyspace to apply write backpressure when flushing falls
// behind the rate of incoming seals.
func (t *Tree) SealedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sealed)
}

// GetRaw looks up userKey across every source in read-path order —
// active memtable, sealed memtables newest-first, level 0 segments
// newest-by-max-seqno-first, then levels >= 1 by binary search — and
// returns the newest version visible at snapshot, including tombstones.
func (t *Tree) GetRaw(userKey []byte, snapshot kv.SeqNo) (kv.InternalValue, bool, error) {
	t.mu.RLock()
	active := t.active
	sealed := make([]*memtable.Memtable, len(t.sealed))
	for i, s := range t.sealed {
		sealed[i] = s.table
	}
	t.mu.RUnlock()

	if v, ok := active.Get(userKey, snapshot); ok {
		return v, true, nil
	}
	for i := len(sealed) - 1; i >= 0; i-- {
		if v, ok := sealed[i].Get(userKey, snapshot); ok {
			return v, true, nil
		}
	}

	for _, seg := range t.levels.FindLevel0Candidates(userKey) {
		v, ok, err := t.segments.Get(seg.ID, userKey, snapshot)
		if err != nil {
			return kv.InternalValue{}, false, err
		}
		if ok {
			return v, true, nil
		}
	}

	for level := 1; level < t.levels.LevelCount(); level++ {
		seg, ok := t.levels.FindInLevel(level, userKey)
		if !ok {
			continue
		}
		v, found, err := t.segments.Get(seg.ID, userKey, snapshot)
		if err != nil {
			return kv.InternalValue{}, false, err
		}
		if found {
			return v, true, nil
		}
	}

	return kv.InternalValue{}, false, nil
}

// Get looks up userKey and hides tombstones: a deleted key reports
// found=false just like a key that was never written.
func (t *Tree) Get(userKey []byte, snapshot kv.SeqNo) ([]byte, bool, error) {
	v, ok, err := t.GetRaw(userKey, snapshot)
	if err != nil || !ok || v.IsTombstone() {
		return nil, false, err
	}
	return v.Value, true, nil
}

// ContainsKey reports whether userKey has a live (non-tombstone) value
// visible at snapshot.
func (t *Tree) ContainsKey(userKey []byte, snapshot kv.SeqNo) (bool, error) {
	_, ok, err := t.Get(userKey, snapshot)
	return ok, err
}

// Flush writes the oldest sealed memtable to a new level 0 segment and
// drops it from the sealed queue. Returns false with no error if there
// is nothing to flush. The caller is responsible for advancing the
// shared journal's truncation point once this returns successfully,
// using the offset OldestSealedJournalOffset reported before the flush.
func (t *Tree) Flush() (bool, error) {
	t.mu.Lock()
	if len(t.sealed) == 0 {
		t.mu.Unlock()
		return false, nil
	}
	oldest := t.sealed[0].table
	t.mu.Unlock()

	values := oldest.Iter()
	if len(values) == 0 {
		t.popSealed()
		return true, nil
	}

	meta, err := t.segments.Write(&sliceIterator{values: values})
	if err != nil {
		return false, err
	}

	if err := t.levels.AtomicSwap(nil, []manifest.SegmentMeta{meta}, 0); err != nil {
		return false, err
	}

	t.popSealed()
	if t.log != nil {
		t.log.Debugw("flushed memtable to segment", "partition", t.name, "segment", meta.ID, "items", meta.ItemCount)
	}
	return true, nil
}

// popSealed drops the oldest sealed memtable now that it has either been
// flushed or found empty.
func (t *Tree) popSealed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = t.sealed[1:]
}

// Name returns the partition name this tree was constructed for.
func (t *Tree) Name() string {
	return t.name
}

// Levels returns the partition's levels manifest, used by the keyspace's
// background compaction worker to drive a compaction.Executor.
func (t *Tree) Levels() *manifest.Levels {
	return t.levels
}
