// Package segment implements the concrete, immutable on-disk segment
// format behind the segment store boundary described in the storage
// engine's data model: a block-based layout with fixed-target-size data
// blocks, a sparse block index, and a per-segment bloom filter, written
// once by a flush or compaction and read back through a shared block
// cache.
package segment

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
	"github.com/emberdb/emberdb/pkg/filesys"
	"github.com/emberdb/emberdb/pkg/seginfo"
)

// magic identifies a well-formed segment file and guards against reading
// an unrelated file as a segment.
const magic = "EMBRSEG1"

const footerVersion = 1

// segmentFilePrefix names every segment file's seginfo prefix, giving
// filenames the "segment_<uuid>.seg" shape seginfo.GenerateName expects.
const segmentFilePrefix = "segment"

// Iterator yields InternalValues in ascending-key, descending-seqno
// order. Segment, the active memtable, and the compaction merge all
// produce streams in this same order so callers can treat them
// interchangeably.
type Iterator interface {
	Next() (kv.InternalValue, bool)
}

// indexEntry is one sparse index row: the first key written to a data
// block, paired with where that block lives in the file.
type indexEntry struct {
	firstKey    []byte
	blockOffset uint64
	blockLen    uint32
}

// blockKey identifies one cached, decoded data block.
type blockKey struct {
	segmentID  string
	blockIndex int
}

// openSegment is a segment's file handle plus its footer, index, and
// bloom filter, all read once on Open and kept for the handle's
// lifetime. refs counts outstanding Open/Range iterators still reading
// through this handle; a segment queued for deletion is not reclaimed
// while refs is above zero.
type openSegment struct {
	id   string
	file *os.File

	index []indexEntry
	bloom *bloom.BloomFilter

	keyRange       kv.KeyRange
	minSeqNo       kv.SeqNo
	maxSeqNo       kv.SeqNo
	itemCount      uint64
	tombstoneCount uint64
	fileSize       uint64

	refs int32
}

// SnapshotProvider reports every currently live snapshot seqno, letting
// Reclaim decide whether a pending-delete segment's max_seqno is still
// within reach of an open read.
type SnapshotProvider interface {
	LiveSnapshots() []kv.SeqNo
}

// Store is the concrete segment store: a data directory, a shared
// decoded-block LRU cache, and the bloom false-positive target used when
// writing new segments. One Store serves every partition in a keyspace,
// since segment ids are globally unique (minted via uuid).
type Store struct {
	dir         string
	blockSize   uint32
	bloomFPRate float64
	log         *zap.SugaredLogger

	cache *lru.Cache[blockKey, []kv.InternalValue]

	mu      sync.Mutex
	handles map[string]*openSegment

	// pending holds the max_seqno of every segment Delete has marked for
	// removal but Reclaim has not yet been able to unlink, either because
	// an iterator still references it or a live snapshot could still read
	// through it.
	pending map[string]kv.SeqNo
}

// Config holds the parameters needed to open a Store.
type Config struct {
	Directory              string
	BlockSize              uint32
	BlockCacheSize         int
	BloomFalsePositiveRate float64
	Logger                 *zap.SugaredLogger
}

// NewStore creates the segment data directory if needed and returns a
// Store ready to write and open segments.
func NewStore(config *Config) (*Store, error) {
	if config == nil || config.Directory == "" || config.Logger == nil {
		return nil, emberrors.NewValidationError(
			nil, emberrors.ErrorCodeInvalidInput, "segment store configuration is required",
		).WithField("config").WithRule("required")
	}

	if err := filesys.CreateDir(config.Directory, 0755, true); err != nil {
		return nil, emberrors.ClassifyDirectoryCreationError(err, config.Directory)
	}

	cache, err := lru.New[blockKey, []kv.InternalValue](config.BlockCacheSize)
	if err != nil {
		return nil, emberrors.NewValidationError(
			err, emberrors.ErrorCodeInvalidInput, "invalid block cache size",
		).WithField("BlockCacheSize").WithRule("positive")
	}

	return &Store{
		dir:         config.Directory,
		blockSize:   config.BlockSize,
		bloomFPRate: config.BloomFalsePositiveRate,
		log:         config.Logger,
		cache:       cache,
		handles:     make(map[string]*openSegment),
		pending:     make(map[string]kv.SeqNo),
	}, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, seginfo.GenerateName(id, segmentFilePrefix))
}

// fileName returns just the on-disk filename for id, used in error
// context rather than the full path.
func (s *Store) fileName(id string) string {
	return seginfo.GenerateName(id, segmentFilePrefix)
}

// Close releases every cached open file handle. Safe to call once during
// keyspace shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, h := range s.handles {
		if err := h.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.handles, id)
	}
	return firstErr
}
