package keyspace

import (
	"github.com/emberdb/emberdb/internal/journal"
	"github.com/emberdb/emberdb/internal/kv"
)

// Item is one staged mutation within a Batch: a put or delete against a
// named partition.
type Item struct {
	Partition string
	Key       []byte
	Value     []byte
	Kind      kv.ValueKind
}

// Batch accumulates mutations across one or more partitions for atomic
// commit: either every item becomes durable under a single journal frame
// and a single reserved seqno range, or none of them do.
type Batch struct {
	ks    *Keyspace
	items []Item
}

// NewBatch returns an empty batch bound to this keyspace.
func (ks *Keyspace) NewBatch() *Batch {
	return &Batch{ks: ks}
}

// Put stages a write of key/value against the named partition.
func (b *Batch) Put(partition string, key, value []byte) {
	b.items = append(b.items, Item{Partition: partition, Key: key, Value: value, Kind: kv.ValueKindValue})
}

// Delete stages a tombstone for key against the named partition.
func (b *Batch) Delete(partition string, key []byte) {
	b.items = append(b.items, Item{Partition: partition, Key: key, Kind: kv.ValueKindTombstone})
}

// Commit makes every staged item durable and visible as a single atomic
// unit under the keyspace's single writer lock. Returns the seqno
// assigned to the first item; item i is assigned seqNo+i. A batch with
// no staged items is a no-op that still reserves and returns a seqno,
// matching a transaction that commits having made no writes.
func (b *Batch) Commit() (kv.SeqNo, error) {
	ks := b.ks
	if ks.closed.Load() {
		return 0, ErrKeyspaceClosed
	}

	ks.writeMu.Lock()
	defer ks.writeMu.Unlock()

	return ks.commitLocked(b.items)
}

// commitLocked carries out the reserve-seqno -> append-journal-frame ->
// insert-every-item sequence. The caller must already hold writeMu —
// held for the whole of a Batch.Commit call, or for the whole lifetime
// of a WriteSession backing a write transaction.
func (ks *Keyspace) commitLocked(items []Item) (kv.SeqNo, error) {
	n := len(items)
	if n == 0 {
		n = 1
	}
	seqNo, err := ks.reserveSeqNos(n)
	if err != nil {
		return 0, err
	}

	journalItems := make([]journal.Item, len(items))
	for i, item := range items {
		journalItems[i] = journal.Item{
			Partition:   item.Partition,
			Key:         item.Key,
			Value:       item.Value,
			IsTombstone: item.Kind == kv.ValueKindTombstone,
		}
	}

	if _, err := ks.journal.Append(seqNo, journalItems); err != nil {
		return 0, err
	}

	touched := make(map[*Partition]struct{}, len(items))
	for i, item := range items {
		part, err := ks.getOrCreatePartition(item.Partition)
		if err != nil {
			// The journal frame for this commit is already durable, but
			// the partition could not be materialized in memory: the
			// keyspace's in-memory state and its journal have diverged,
			// so no further writes can be trusted until a fresh replay.
			ks.poison()
			return 0, err
		}
		touched[part] = struct{}{}

		itemSeq := seqNo + kv.SeqNo(i)
		if part.tree.Insert(kv.InternalValue{Key: item.Key, Value: item.Value, SeqNo: itemSeq, Kind: item.Kind}) {
			part.tree.Seal(ks.journal.Offset())
		}
	}

	// Backpressure: a partition whose sealed queue has grown past
	// MaxSealedMemtables blocks further commits touching it until the
	// flush manager signals it has caught up.
	for part := range touched {
		ks.waitForFlushBackpressure(part)
	}

	return seqNo, nil
}
