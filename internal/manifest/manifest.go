// Package manifest implements the levels manifest: the persisted,
// per-partition description of which segments belong to which level,
// plus the in-memory hidden-set bookkeeping that keeps the compaction
// strategy from double-scheduling a segment already being compacted.
package manifest

import (
	"fmt"
	"sync"

	"github.com/emberdb/emberdb/internal/kv"
)

// SegmentMeta is the manifest's view of one segment: enough to decide
// compaction eligibility and key-range routing without opening the file.
type SegmentMeta struct {
	ID             string
	KeyRange       kv.KeyRange
	MinSeqNo       kv.SeqNo
	MaxSeqNo       kv.SeqNo
	ItemCount      uint64
	TombstoneCount uint64
	FileSize       uint64
}

// Level is an ordered collection of segments. Level 0 permits overlapping
// key ranges; levels >=1 are disjoint and sorted by min key.
type Level struct {
	Segments []SegmentMeta
}

// ResolvedView is a read-only snapshot of the levels with segments
// currently hidden by an in-flight compaction removed, handed to the
// compaction strategy so it never double-schedules a segment.
type ResolvedView struct {
	Levels []Level
}

// Levels is the persisted per-partition manifest: a fixed-length sequence
// of Level, plus the in-memory hidden set.
type Levels struct {
	mu      sync.RWMutex
	levels  []Level
	hidden  map[string]struct{}
	persist func([]Level) error
}

// New creates an empty manifest with levelCount levels. persist is called
// under the write lock every time the manifest's on-disk state must
// change (after atomic_swap), and should perform the write-temp, fsync,
// rename, fsync-dir sequence described in the levels manifest file format.
func New(levelCount int, persist func([]Level) error) *Levels {
	return &Levels{
		levels:  make([]Level, levelCount),
		hidden:  make(map[string]struct{}),
		persist: persist,
	}
}

// LevelCount returns the fixed number of levels.
func (l *Levels) LevelCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.levels)
}

// ResolvedView returns a deep-enough copy of the levels with hidden
// segments excluded, safe for the compaction strategy to inspect without
// holding any lock afterward.
func (l *Levels) ResolvedView() ResolvedView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Level, len(l.levels))
	for i, lvl := range l.levels {
		visible := make([]SegmentMeta, 0, len(lvl.Segments))
		for _, seg := range lvl.Segments {
			if _, isHidden := l.hidden[seg.ID]; !isHidden {
				visible = append(visible, seg)
			}
		}
		out[i] = Level{Segments: visible}
	}
	return ResolvedView{Levels: out}
}

// Hide adds ids to the hidden set. All ids must currently be visible
// (present in some level) and not already hidden.
func (l *Levels) Hide(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	present := make(map[string]struct{})
	for _, lvl := range l.levels {
		for _, seg := range lvl.Segments {
			present[seg.ID] = struct{}{}
		}
	}

	for _, id := range ids {
		if _, ok := present[id]; !ok {
			return fmt.Errorf("manifest: cannot hide unknown segment %s", id)
		}
		if _, ok := l.hidden[id]; ok {
			return fmt.Errorf("manifest: segment %s already hidden", id)
		}
	}

	for _, id := range ids {
		l.hidden[id] = struct{}{}
	}
	return nil
}

// Unhide removes ids from the hidden set without otherwise changing the
// manifest, used to roll back a failed compaction attempt.
func (l *Levels) Unhide(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.hidden, id)
	}
}

// AtomicSwap removes `removed` segments from their current levels,
// inserts `added` into destLevel preserving disjointness for levels >=1,
// clears their ids from the hidden set, persists the new manifest, and
// only commits the in-memory state if persistence succeeds.
func (l *Levels) AtomicSwap(removed []string, added []SegmentMeta, destLevel int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if destLevel < 0 || destLevel >= len(l.levels) {
		return fmt.Errorf("manifest: dest level %d out of range", destLevel)
	}

	removedSet := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		removedSet[id] = struct{}{}
	}

	newLevels := make([]Level, len(l.levels))
	for i, lvl := range l.levels {
		kept := make([]SegmentMeta, 0, len(lvl.Segments))
		for _, seg := range lvl.Segments {
			if _, drop := removedSet[seg.ID]; !drop {
				kept = append(kept, seg)
			}
		}
		newLevels[i] = Level{Segments: kept}
	}

	newLevels[destLevel].Segments = append(newLevels[destLevel].Segments, added...)
	if destLevel >= 1 {
		if err := checkDisjoint(newLevels[destLevel].Segments); err != nil {
			return err
		}
		sortByMinKey(newLevels[destLevel].Segments)
	}

	if l.persist != nil {
		if err := l.persist(newLevels); err != nil {
			return err
		}
	}

	l.levels = newLevels
	for _, id := range removed {
		delete(l.hidden, id)
	}
	for _, seg := range added {
		delete(l.hidden, seg.ID)
	}
	return nil
}

// FindLevel0Candidates returns level 0's segments newest-first (by
// MaxSeqNo descending), matching the read path's "L0 newest first" probe
// order.
func (l *Levels) FindLevel0Candidates(key []byte) []SegmentMeta {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.levels) == 0 {
		return nil
	}

	out := make([]SegmentMeta, 0)
	for _, seg := range l.levels[0].Segments {
		if seg.KeyRange.Contains(key) {
			out = append(out, seg)
		}
	}
	sortByMaxSeqNoDesc(out)
	return out
}

// FindInLevel binary-searches level i's disjoint segment list for the
// segment that could contain key, returning false if none does.
func (l *Levels) FindInLevel(level int, key []byte) (SegmentMeta, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < 0 || level >= len(l.levels) {
		return SegmentMeta{}, false
	}
	segs := l.levels[level].Segments

	lo, hi := 0, len(segs)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		seg := segs[mid]
		switch {
		case seg.KeyRange.Contains(key):
			return seg, true
		case string(key) < string(seg.KeyRange.Min):
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return SegmentMeta{}, false
}

// Snapshot returns a deep-enough copy of every level including hidden
// segments, used by the manifest persistence writer and by diagnostics.
func (l *Levels) Snapshot() []Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Level, len(l.levels))
	for i, lvl := range l.levels {
		segs := make([]SegmentMeta, len(lvl.Segments))
		copy(segs, lvl.Segments)
		out[i] = Level{Segments: segs}
	}
	return out
}

// Restore replaces the manifest's levels wholesale, used once on keyspace
// open after decoding the persisted manifest file.
func (l *Levels) Restore(levels []Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = levels
}

func checkDisjoint(segs []SegmentMeta) error {
	sorted := make([]SegmentMeta, len(segs))
	copy(sorted, segs)
	sortByMinKey(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].KeyRange.Overlaps(sorted[i].KeyRange) {
			return fmt.Errorf(
				"manifest: level disjointness violated between segments %s and %s",
				sorted[i-1].ID, sorted[i].ID,
			)
		}
	}
	return nil
}

func sortByMinKey(segs []SegmentMeta) {
	for i := 1; i < len(segs); i++ {
		for j := i; j > 0 && string(segs[j].KeyRange.Min) < string(segs[j-1].KeyRange.Min); j-- {
			segs[j], segs[j-1] = segs[j-1], segs[j]
		}
	}
}

func sortByMaxSeqNoDesc(segs []SegmentMeta) {
	for i := 1; i < len(segs); i++ {
		for j := i; j > 0 && segs[j].MaxSeqNo > segs[j-1].MaxSeqNo; j-- {
			segs[j], segs[j-1] = segs[j-1], segs[j]
		}
	}
}
