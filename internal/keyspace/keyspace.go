// Package keyspace implements the top-level coordinator: it owns the
// shared write-ahead log, mints sequence numbers, holds the map of named
// partitions, and runs the background flush and compaction workers. It
// is the entry point every transaction and batch commit goes through.
package keyspace

import (
	stdErrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/emberdb/emberdb/internal/journal"
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/segment"
	"github.com/emberdb/emberdb/internal/tree"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
	"github.com/emberdb/emberdb/pkg/filesys"
	"github.com/emberdb/emberdb/pkg/options"
)

// ErrKeyspaceClosed is returned by every operation on a closed keyspace.
var ErrKeyspaceClosed = stdErrors.New("operation failed: cannot access closed keyspace")

const segmentsSubdir = "segments"

// Keyspace coordinates every partition sharing one journal, one seqno
// space, and one segment store.
type Keyspace struct {
	dataDir string
	options *options.Options
	log     *zap.SugaredLogger

	journal  *journal.Journal
	segments *segment.Store

	nextSeq   atomic.Uint64
	poisoned  atomic.Bool
	closed    atomic.Bool
	writeMu   sync.Mutex

	partitionsMu sync.Mutex
	partitions   sync.Map // string -> *Partition

	snapshots *tree.SnapshotCounter

	// flushCond is signaled by flushDue after every pass over the
	// partitions, waking commits blocked in waitForFlushBackpressure once
	// a partition's sealed-memtable count has dropped back at or below
	// MemtableOptions.MaxSealedMemtables.
	flushMu   sync.Mutex
	flushCond *sync.Cond

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config holds the parameters needed to open a Keyspace.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Open creates (or recovers) a keyspace at config.Options.DataDir: it
// replays the journal into each partition's active memtable, restores
// the levels manifest of every partition the journal names (any other
// partition restores its manifest on first use), restarts the seqno minter past the
// highest replayed seqno, and starts the background flush and
// compaction workers.
func Open(config *Config) (*Keyspace, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, emberrors.NewValidationError(
			nil, emberrors.ErrorCodeInvalidInput, "keyspace configuration is required",
		).WithField("config").WithRule("required")
	}

	opts := config.Options
	if err := filesys.CreateDir(opts.DataDir, 0755, true); err != nil {
		return nil, emberrors.ClassifyDirectoryCreationError(err, opts.DataDir)
	}

	segStore, err := segment.NewStore(&segment.Config{
		Directory:              filepath.Join(opts.DataDir, segmentsSubdir),
		BlockSize:              opts.SegmentOptions.BlockSize,
		BlockCacheSize:         opts.SegmentOptions.BlockCacheSize,
		BloomFalsePositiveRate: opts.SegmentOptions.BloomFalsePositiveRate,
		Logger:                 config.Logger,
	})
	if err != nil {
		return nil, err
	}

	journalDir := filepath.Join(opts.DataDir, opts.JournalOptions.Directory)
	journalPath := filepath.Join(journalDir, journal.FileName)
	batches, validOffset, err := journal.Recover(journalPath, config.Logger)
	if err != nil {
		return nil, err
	}

	jrnl, err := journal.Open(&journal.Config{
		Directory: journalDir,
		Mode:      opts.JournalOptions.Mode,
		Logger:    config.Logger,
	})
	if err != nil {
		return nil, err
	}
	if jrnl.Offset() > validOffset {
		if err := jrnl.TruncateTo(validOffset); err != nil {
			return nil, err
		}
	}

	ks := &Keyspace{
		dataDir:   opts.DataDir,
		options:   opts,
		log:       config.Logger,
		journal:   jrnl,
		segments:  segStore,
		snapshots: tree.NewSnapshotCounter(),
		stopCh:    make(chan struct{}),
	}
	ks.flushCond = sync.NewCond(&ks.flushMu)
	ks.nextSeq.Store(1)

	if err := ks.replay(batches); err != nil {
		jrnl.Close()
		return nil, err
	}

	ks.wg.Add(2)
	go ks.flushLoop()
	go ks.compactLoop()

	return ks, nil
}

// replay reinstates every partition's active memtable from recovered
// journal batches and advances the seqno minter past the highest replayed
// seqno.
func (ks *Keyspace) replay(batches []journal.RecoveredBatch) error {
	var maxSeen kv.SeqNo

	for _, batch := range batches {
		for i, item := range batch.Items {
			seqNo := batch.SeqNo + kv.SeqNo(i)
			part, err := ks.getOrCreatePartition(item.Partition)
			if err != nil {
				return err
			}
			kind := kv.ValueKindValue
			if item.IsTombstone {
				kind = kv.ValueKindTombstone
			}
			part.tree.Insert(kv.InternalValue{Key: item.Key, Value: item.Value, SeqNo: seqNo, Kind: kind})
			if seqNo > maxSeen {
				maxSeen = seqNo
			}
		}
	}

	if maxSeen > 0 {
		ks.nextSeq.Store(uint64(maxSeen) + 1)
	}
	return nil
}

// reserveSeqNos reserves n consecutive sequence numbers and returns the
// first one. Poisons the keyspace and returns ErrPoisoned if doing so
// would reach the reserved kv.MaxSeqNo sentinel.
func (ks *Keyspace) reserveSeqNos(n int) (kv.SeqNo, error) {
	if ks.poisoned.Load() {
		return 0, emberrors.ErrPoisoned
	}

	next := ks.nextSeq.Add(uint64(n))
	s0 := next - uint64(n)
	if next >= uint64(kv.MaxSeqNo) {
		ks.poisoned.Store(true)
		return 0, emberrors.ErrPoisoned
	}
	return s0, nil
}

// poison marks the keyspace unusable; every subsequent operation fails
// with ErrPoisoned until the keyspace is closed and reopened.
func (ks *Keyspace) poison() {
	ks.poisoned.Store(true)
}

// getOrCreatePartition returns the named partition's handle, creating it
// (and its on-disk manifest directory) on first use.
func (ks *Keyspace) getOrCreatePartition(name string) (*Partition, error) {
	if existing, ok := ks.partitions.Load(name); ok {
		return existing.(*Partition), nil
	}

	ks.partitionsMu.Lock()
	defer ks.partitionsMu.Unlock()

	if existing, ok := ks.partitions.Load(name); ok {
		return existing.(*Partition), nil
	}

	part, err := newPartition(ks, name)
	if err != nil {
		return nil, err
	}
	ks.partitions.Store(name, part)
	return part, nil
}

// Partition returns a handle to the named partition, creating it if it
// does not already exist.
func (ks *Keyspace) Partition(name string) (*PartitionHandle, error) {
	if ks.closed.Load() {
		return nil, ErrKeyspaceClosed
	}
	part, err := ks.getOrCreatePartition(name)
	if err != nil {
		return nil, err
	}
	return &PartitionHandle{part: part}, nil
}

// flushLoop periodically flushes sealed memtables to level 0 segments
// and truncates the journal once no partition still needs its tail.
func (ks *Keyspace) flushLoop() {
	defer ks.wg.Done()
	ticker := time.NewTicker(ks.options.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ks.stopCh:
			return
		case <-ticker.C:
			ks.flushDue()
		}
	}
}

func (ks *Keyspace) flushDue() {
	var minPending int64 = -1

	ks.partitions.Range(func(_, value any) bool {
		part := value.(*Partition)

		// A partition can reach its seal threshold between two ticks
		// without anyone sealing it (Insert only seals synchronously from
		// the write path, and a write that crossed the threshold may have
		// been the last one so far); catch that up here instead of
		// waiting for the next write to notice.
		if part.tree.FlushRequested() {
			part.tree.Seal(ks.journal.Offset())
		}

		for {
			flushed, err := part.tree.Flush()
			if err != nil {
				ks.log.Errorw("flush failed", "partition", part.name, "error", err)
				ks.poison()
				return false
			}
			if !flushed {
				break
			}
		}
		if offset, ok := part.tree.OldestSealedJournalOffset(); ok {
			if minPending == -1 || offset < minPending {
				minPending = offset
			}
		}
		return true
	})

	if minPending == -1 {
		minPending = ks.journal.Offset()
	}
	if err := ks.journal.TruncateTo(minPending); err != nil {
		ks.log.Errorw("journal truncation failed", "error", err)
	}

	ks.flushMu.Lock()
	ks.flushCond.Broadcast()
	ks.flushMu.Unlock()
}

// waitForFlushBackpressure blocks while part has accumulated more sealed,
// unflushed memtables than MemtableOptions.MaxSealedMemtables allows,
// waking each time flushDue broadcasts after a pass over the partitions.
// A MaxSealedMemtables of 0 disables the check.
func (ks *Keyspace) waitForFlushBackpressure(part *Partition) {
	max := ks.options.MemtableOptions.MaxSealedMemtables
	if max <= 0 {
		return
	}

	ks.flushMu.Lock()
	defer ks.flushMu.Unlock()
	for part.tree.SealedCount() > max && !ks.closed.Load() {
		ks.flushCond.Wait()
	}
}

// compactLoop periodically asks each partition's compaction executor to
// run once.
func (ks *Keyspace) compactLoop() {
	defer ks.wg.Done()
	ticker := time.NewTicker(ks.options.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ks.stopCh:
			return
		case <-ticker.C:
			ks.partitions.Range(func(_, value any) bool {
				part := value.(*Partition)
				if _, err := part.executor.RunOnce(part.tree.Levels(), ks.snapshots); err != nil {
					ks.log.Errorw("compaction failed", "partition", part.name, "error", err)
				}
				return true
			})
		}
	}
}

// Close stops the background workers and releases the journal and
// segment store. Safe to call exactly once.
func (ks *Keyspace) Close() error {
	if !ks.closed.CompareAndSwap(false, true) {
		return ErrKeyspaceClosed
	}

	ks.flushMu.Lock()
	ks.flushCond.Broadcast()
	ks.flushMu.Unlock()

	close(ks.stopCh)
	ks.wg.Wait()

	var err error
	err = multierr.Append(err, ks.journal.Close())
	err = multierr.Append(err, ks.segments.Close())
	return err
}
