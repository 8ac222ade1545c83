package txn

import (
	"github.com/emberdb/emberdb/internal/keyspace"
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/tree"
)

// ReadTransaction is a cheap, monotonic snapshot over committed state: it
// captures the current seqno as its instant and registers it as a live
// snapshot so compaction preserves every version it might still read,
// until Close releases it. Unlike the original's scope-based guard, Go
// has no destructor equivalent — callers must defer Close immediately
// after BeginRead.
type ReadTransaction struct {
	ks      *keyspace.Keyspace
	instant kv.SeqNo
	closed  bool
}

// BeginRead captures ks's current committed state as a snapshot and
// registers it as live.
func BeginRead(ks *keyspace.Keyspace) *ReadTransaction {
	instant := ks.CurrentSeqNo()
	ks.Snapshots().Acquire(instant)
	return &ReadTransaction{ks: ks, instant: instant}
}

// Get looks up key against the snapshot, hiding tombstones.
func (tx *ReadTransaction) Get(partition string, key []byte) ([]byte, bool, error) {
	handle, err := tx.ks.Partition(partition)
	if err != nil {
		return nil, false, err
	}
	return handle.GetAt(key, tx.instant)
}

// ContainsKey reports whether key has a live value as of the snapshot.
func (tx *ReadTransaction) ContainsKey(partition string, key []byte) (bool, error) {
	handle, err := tx.ks.Partition(partition)
	if err != nil {
		return false, err
	}
	return handle.ContainsKeyAt(key, tx.instant)
}

// Range returns a merged, deduplicated, tombstone-free iterator over
// bounds as of the snapshot.
func (tx *ReadTransaction) Range(partition string, bounds kv.Bounds) (tree.Iterator, error) {
	handle, err := tx.ks.Partition(partition)
	if err != nil {
		return nil, err
	}
	return handle.RangeAt(bounds, tx.instant)
}

// Close releases the snapshot. Safe to call more than once; only the
// first call has any effect.
func (tx *ReadTransaction) Close() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.ks.Snapshots().Release(tx.instant)
}
