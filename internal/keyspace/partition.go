package keyspace

import (
	"path/filepath"

	"github.com/emberdb/emberdb/internal/compaction"
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/manifest"
	"github.com/emberdb/emberdb/internal/segment"
	"github.com/emberdb/emberdb/internal/tree"
)

// compactionStore adapts *segment.Store to compaction.SegmentStore. The
// two packages each declare their own Iterator interface (same method
// set, distinct named types) so segment.Store's methods don't satisfy
// compaction.SegmentStore's by identity alone; this narrow wrapper
// closes the gap the same way tree/iterator.go's segmentIteratorAdapter
// does for the read path.
type compactionStore struct {
	store *segment.Store
}

func (s compactionStore) Open(id string) (compaction.Iterator, error) {
	return s.store.Open(id)
}

func (s compactionStore) Write(it compaction.Iterator) (manifest.SegmentMeta, error) {
	return s.store.Write(it)
}

func (s compactionStore) Delete(id string) error {
	return s.store.Delete(id)
}

func (s compactionStore) Reclaim(snapshots compaction.SnapshotProvider) error {
	return s.store.Reclaim(snapshots)
}

const manifestSubdir = "manifests"

// Partition wires one named column family's LSM tree to a dedicated,
// persisted levels manifest and a compaction executor, while sharing the
// keyspace's journal, seqno minter, segment store, and snapshot counter.
type Partition struct {
	name     string
	tree     *tree.Tree
	executor *compaction.Executor
}

// newPartition constructs a Partition, creating its on-disk manifest
// directory and restoring any previously persisted levels state.
func newPartition(ks *Keyspace, name string) (*Partition, error) {
	manifestDir := filepath.Join(ks.dataDir, manifestSubdir, name)
	levels, err := manifest.NewPersistent(manifestDir, ks.options.CompactionOptions.LevelCount)
	if err != nil {
		return nil, err
	}

	t := tree.New(&tree.Config{
		Name:            name,
		Levels:          levels,
		Segments:        ks.segments,
		Snapshots:       ks.snapshots,
		MaxMemtableSize: ks.options.MemtableOptions.MaxSize,
		Logger:          ks.log,
	})

	strategy := compaction.NewSizeTiered(
		ks.options.CompactionOptions.MinThreshold,
		ks.options.CompactionOptions.MaxThreshold,
	)
	executor := compaction.NewExecutor(compactionStore{store: ks.segments}, strategy)

	return &Partition{name: name, tree: t, executor: executor}, nil
}

// PartitionHandle is the public, read/write-capable view of a partition
// returned by Keyspace.Partition. Direct Get/Range calls outside a
// transaction always observe the latest committed state.
type PartitionHandle struct {
	part *Partition
}

// Name returns the partition's name.
func (h *PartitionHandle) Name() string {
	return h.part.name
}

// Get looks up key against the latest committed state, hiding tombstones.
func (h *PartitionHandle) Get(key []byte) ([]byte, bool, error) {
	return h.part.tree.Get(key, kv.MaxSeqNo)
}

// ContainsKey reports whether key currently has a live value.
func (h *PartitionHandle) ContainsKey(key []byte) (bool, error) {
	return h.part.tree.ContainsKey(key, kv.MaxSeqNo)
}

// Range returns a merged, deduplicated, tombstone-free iterator over
// bounds as of the latest committed state.
func (h *PartitionHandle) Range(bounds kv.Bounds) (tree.Iterator, error) {
	return h.part.tree.Range(bounds, kv.MaxSeqNo)
}

// GetAt looks up key as of a frozen snapshot seqno, hiding tombstones.
func (h *PartitionHandle) GetAt(key []byte, snapshot kv.SeqNo) ([]byte, bool, error) {
	return h.part.tree.Get(key, snapshot)
}

// ContainsKeyAt reports whether key has a live value as of snapshot.
func (h *PartitionHandle) ContainsKeyAt(key []byte, snapshot kv.SeqNo) (bool, error) {
	return h.part.tree.ContainsKey(key, snapshot)
}

// RangeAt returns a merged, deduplicated, tombstone-free iterator over
// bounds as of a frozen snapshot seqno.
func (h *PartitionHandle) RangeAt(bounds kv.Bounds, snapshot kv.SeqNo) (tree.Iterator, error) {
	return h.part.tree.Range(bounds, snapshot)
}
