// Package compaction implements the pure decision function that chooses
// which segments to merge next, and the executor that carries a chosen
// merge out against a partition's levels manifest.
package compaction

import "github.com/emberdb/emberdb/internal/manifest"

// Decision is the outcome of a strategy's Choose call: either do nothing,
// or merge a specific set of segments from one level into the next.
type Decision struct {
	Compact    bool
	SegmentIDs []string
	DestLevel  int
	// TargetSize is the summed file size of the chosen segments, an
	// estimate of the merged segment's size. The executor does not read
	// it; a compaction always writes a single output segment.
	TargetSize uint64
}

// DoNothing is the zero-value Decision: no compaction needed this round.
var DoNothing = Decision{}

// Strategy decides what to compact next given a resolved view of the
// levels (hidden segments already excluded). Implementations must be
// side-effect free: Choose is called repeatedly by the background
// compaction goroutine and must not mutate its argument.
type Strategy interface {
	Choose(view manifest.ResolvedView) Decision
}

// SizeTiered is the default strategy (STCS): for every level below the
// last, the first level whose segment count reaches minThreshold yields a
// compaction of min(count, maxThreshold) of its segments into the next
// level: at level 0 the ones with the smallest MaxSeqNo, at deeper levels
// the first ones in stored (min-key) order. The last level is never a
// compaction source — it has
// nowhere further to go.
type SizeTiered struct {
	MinThreshold int
	MaxThreshold int
}

// NewSizeTiered creates a SizeTiered strategy with the given thresholds.
func NewSizeTiered(minThreshold, maxThreshold int) *SizeTiered {
	return &SizeTiered{MinThreshold: minThreshold, MaxThreshold: maxThreshold}
}

// Choose implements Strategy.
func (s *SizeTiered) Choose(view manifest.ResolvedView) Decision {
	if len(view.Levels) < 2 {
		return DoNothing
	}

	for level := 0; level < len(view.Levels)-1; level++ {
		segs := view.Levels[level].Segments
		if len(segs) < s.MinThreshold {
			continue
		}

		n := s.MaxThreshold
		if n > len(segs) {
			n = len(segs)
		}

		var chosen []manifest.SegmentMeta
		if level == 0 {
			chosen = oldestByMaxSeqNo(segs, n)
		} else {
			// Levels >=1 are already kept sorted by min key (AtomicSwap's
			// disjointness invariant), so the first n segments in stored
			// order is exactly "the first min(|L_i|, max_threshold)
			// segments of L_i" — no re-sort by recency here.
			chosen = append([]manifest.SegmentMeta(nil), segs[:n]...)
		}

		ids := make([]string, len(chosen))
		var targetSize uint64
		for i, seg := range chosen {
			ids[i] = seg.ID
			targetSize += seg.FileSize
		}

		return Decision{
			Compact:    true,
			SegmentIDs: ids,
			DestLevel:  level + 1,
			TargetSize: targetSize,
		}
	}

	return DoNothing
}

// oldestByMaxSeqNo returns the n segments with the smallest MaxSeqNo,
// i.e. the ones written longest ago, without otherwise reordering the
// slice the strategy was handed.
func oldestByMaxSeqNo(segs []manifest.SegmentMeta, n int) []manifest.SegmentMeta {
	sorted := make([]manifest.SegmentMeta, len(segs))
	copy(sorted, segs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].MaxSeqNo < sorted[j-1].MaxSeqNo; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[:n]
}
