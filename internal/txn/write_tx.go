// Package txn implements write and read transactions layered on top of
// internal/keyspace: a write transaction serializes with every other
// writer and stages its mutations privately until commit, while a read
// transaction is a cheap, long-lived, monotonic snapshot over committed
// state.
package txn

import (
	stdErrors "errors"

	"github.com/emberdb/emberdb/internal/keyspace"
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/tree"
)

// ErrTransactionFinished is returned by any operation attempted on a
// write transaction that has already committed or rolled back.
var ErrTransactionFinished = stdErrors.New("operation failed: transaction already committed or rolled back")

// WriteTransaction is the single writer at any given moment: it holds
// the keyspace's write session for its entire lifetime, so every read it
// performs against committed state is stable until it ends. Writes are
// staged in a private per-partition overlay and only become visible to
// anyone else, durably, on Commit.
type WriteTransaction struct {
	ks       *keyspace.Keyspace
	session  *keyspace.WriteSession
	instant  kv.SeqNo
	overlays map[string]*overlay
	done     bool
}

// BeginWrite blocks until it holds exclusive write access to ks, then
// captures the current committed state as this transaction's read
// instant.
func BeginWrite(ks *keyspace.Keyspace) *WriteTransaction {
	session := ks.BeginWrite()
	return &WriteTransaction{
		ks:       ks,
		session:  session,
		instant:  session.CurrentSeqNo(),
		overlays: make(map[string]*overlay),
	}
}

func (tx *WriteTransaction) overlayFor(partition string) *overlay {
	ov, ok := tx.overlays[partition]
	if !ok {
		ov = newOverlay()
		tx.overlays[partition] = ov
	}
	return ov
}

// Put stages a write of key/value against partition, visible to this
// transaction's own subsequent reads immediately and to everyone else
// only once Commit succeeds.
func (tx *WriteTransaction) Put(partition string, key, value []byte) {
	tx.overlayFor(partition).put(key, value)
}

// Delete stages a tombstone for key against partition.
func (tx *WriteTransaction) Delete(partition string, key []byte) {
	tx.overlayFor(partition).delete(key)
}

// Get reads key, preferring this transaction's own staged write over
// the committed value as of the transaction's instant.
func (tx *WriteTransaction) Get(partition string, key []byte) ([]byte, bool, error) {
	if ov, ok := tx.overlays[partition]; ok {
		if v, found := ov.get(key); found {
			if v.IsTombstone() {
				return nil, false, nil
			}
			return v.Value, true, nil
		}
	}

	handle, err := tx.session.Partition(partition)
	if err != nil {
		return nil, false, err
	}
	return handle.GetAt(key, tx.instant)
}

// ContainsKey reports whether key currently resolves to a live value,
// merging this transaction's own writes with committed state.
func (tx *WriteTransaction) ContainsKey(partition string, key []byte) (bool, error) {
	_, ok, err := tx.Get(partition, key)
	return ok, err
}

// FetchUpdate reads the current value for key (nil, false if absent),
// passes it to fn, stages fn's result as the new value, and returns the
// value observed before the update.
func (tx *WriteTransaction) FetchUpdate(partition string, key []byte, fn func(value []byte, ok bool) []byte) ([]byte, bool, error) {
	old, ok, err := tx.Get(partition, key)
	if err != nil {
		return nil, false, err
	}
	tx.Put(partition, key, fn(old, ok))
	return old, ok, nil
}

// UpdateFetch is FetchUpdate but returns the value after the update.
func (tx *WriteTransaction) UpdateFetch(partition string, key []byte, fn func(value []byte, ok bool) []byte) ([]byte, error) {
	old, ok, err := tx.Get(partition, key)
	if err != nil {
		return nil, err
	}
	updated := fn(old, ok)
	tx.Put(partition, key, updated)
	return updated, nil
}

// Take reads the current value for key and stages its deletion,
// returning the value observed before the delete.
func (tx *WriteTransaction) Take(partition string, key []byte) ([]byte, bool, error) {
	old, ok, err := tx.Get(partition, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		tx.Delete(partition, key)
	}
	return old, ok, nil
}

// Range returns a merged, deduplicated, tombstone-free iterator over
// bounds: this transaction's own staged writes layered over committed
// state as of its instant.
func (tx *WriteTransaction) Range(partition string, bounds kv.Bounds) (tree.Iterator, error) {
	handle, err := tx.session.Partition(partition)
	if err != nil {
		return nil, err
	}
	committed, err := handle.RangeAt(bounds, tx.instant)
	if err != nil {
		return nil, err
	}

	var staged []kv.InternalValue
	if ov, ok := tx.overlays[partition]; ok {
		for _, v := range ov.sortedValues() {
			if bounds.Contains(v.Key) {
				staged = append(staged, v)
			}
		}
	}
	return newOverlayMergeIterator(staged, committed), nil
}

// Commit durably applies every staged write as a single atomic unit
// across every partition touched, assigning real seqnos only now, and
// releases the write session. Returns the seqno assigned to the first
// written item. A transaction that staged no writes still commits,
// reserving and returning a seqno.
func (tx *WriteTransaction) Commit() (kv.SeqNo, error) {
	if tx.done {
		return 0, ErrTransactionFinished
	}
	tx.done = true

	var items []keyspace.Item
	for partition, ov := range tx.overlays {
		for _, v := range ov.sortedValues() {
			items = append(items, keyspace.Item{
				Partition: partition,
				Key:       v.Key,
				Value:     v.Value,
				Kind:      v.Kind,
			})
		}
	}
	return tx.session.Commit(items)
}

// Rollback discards every staged write and releases the write session.
// The keyspace is left exactly as it was before BeginWrite.
func (tx *WriteTransaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.session.Rollback()
}
