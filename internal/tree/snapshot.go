package tree

import (
	"sort"
	"sync"

	"github.com/emberdb/emberdb/internal/kv"
)

// SnapshotCounter is a multiset of currently open read-snapshot sequence
// numbers, shared by every partition in a keyspace (all partitions read
// against the same seqno space). Compaction consults it to decide which
// versions of a key must be preserved rather than collapsed away.
type SnapshotCounter struct {
	mu     sync.Mutex
	counts map[kv.SeqNo]int
}

// NewSnapshotCounter creates an empty counter.
func NewSnapshotCounter() *SnapshotCounter {
	return &SnapshotCounter{counts: make(map[kv.SeqNo]int)}
}

// Acquire records one more live snapshot at seqno. Called once when a
// ReadTransaction is opened; a WriteTransaction does not acquire one.
func (c *SnapshotCounter) Acquire(seqNo kv.SeqNo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[seqNo]++
}

// Release drops one reference to seqNo, removing it from the live set
// once its count reaches zero. Called from a ReadTransaction's Close (Go
// has no destructor to do this automatically, unlike the original
// snapshot guard's Drop impl — callers must defer Close themselves).
func (c *SnapshotCounter) Release(seqNo kv.SeqNo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.counts[seqNo]; ok {
		if n <= 1 {
			delete(c.counts, seqNo)
		} else {
			c.counts[seqNo] = n - 1
		}
	}
}

// LiveSnapshots returns every distinct seqno with at least one open
// snapshot, satisfying compaction.SnapshotProvider by method set.
func (c *SnapshotCounter) LiveSnapshots() []kv.SeqNo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]kv.SeqNo, 0, len(c.counts))
	for seqNo := range c.counts {
		out = append(out, seqNo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MinLive returns the oldest live snapshot seqno, or false if none is
// open.
func (c *SnapshotCounter) MinLive() (kv.SeqNo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := true
	var min kv.SeqNo
	for seqNo := range c.counts {
		if first || seqNo < min {
			min = seqNo
			first = false
		}
	}
	return min, !first
}

// IsEmpty reports whether any snapshot is currently open.
func (c *SnapshotCounter) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts) == 0
}
