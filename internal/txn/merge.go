package txn

import (
	"bytes"

	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/tree"
)

// overlayMergeIterator merges a write transaction's sorted private
// overlay with the underlying committed-as-of-instant iterator,
// preferring the overlay on a key collision (read-your-own-writes) and
// dropping tombstones from both sides, so Next only ever returns live,
// deduplicated entries.
type overlayMergeIterator struct {
	overlay []kv.InternalValue
	oi      int

	committed tree.Iterator
	pending   *kv.InternalValue
}

func newOverlayMergeIterator(overlay []kv.InternalValue, committed tree.Iterator) *overlayMergeIterator {
	return &overlayMergeIterator{overlay: overlay, committed: committed}
}

func (m *overlayMergeIterator) fillPending() {
	if m.pending == nil {
		if v, ok := m.committed.Next(); ok {
			m.pending = &v
		}
	}
}

func (m *overlayMergeIterator) Next() (kv.InternalValue, bool) {
	for {
		m.fillPending()

		var ov *kv.InternalValue
		if m.oi < len(m.overlay) {
			ov = &m.overlay[m.oi]
		}

		switch {
		case ov == nil && m.pending == nil:
			return kv.InternalValue{}, false

		case ov == nil:
			v := *m.pending
			m.pending = nil
			return v, true

		case m.pending == nil:
			m.oi++
			if ov.IsTombstone() {
				continue
			}
			return *ov, true

		default:
			switch c := bytes.Compare(ov.Key, m.pending.Key); {
			case c < 0:
				m.oi++
				if ov.IsTombstone() {
					continue
				}
				return *ov, true
			case c > 0:
				v := *m.pending
				m.pending = nil
				return v, true
			default:
				// Same key on both sides: the overlay shadows the
				// committed version entirely.
				m.oi++
				m.pending = nil
				if ov.IsTombstone() {
					continue
				}
				return *ov, true
			}
		}
	}
}
