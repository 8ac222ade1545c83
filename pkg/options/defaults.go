package options

import "time"

const (
	// DefaultDataDir is the base directory where emberdb stores its data
	// files when no other directory is specified during initialization.
	DefaultDataDir = "/var/lib/emberdb"

	// DefaultFlushInterval is how often the background flush worker polls
	// for sealed memtables awaiting a flush.
	DefaultFlushInterval = 500 * time.Millisecond

	// DefaultCompactInterval is how often the background compaction
	// worker asks the strategy for a decision.
	DefaultCompactInterval = 5 * time.Second

	// MinMemtableSize is the smallest allowed memtable seal threshold (1MB).
	MinMemtableSize uint64 = 1 * 1024 * 1024

	// DefaultMemtableSize is the default memtable seal threshold (64MB).
	DefaultMemtableSize uint64 = 64 * 1024 * 1024

	// MinMaxSealedMemtables is the smallest allowed sealed-memtable
	// backpressure threshold.
	MinMaxSealedMemtables = 1

	// DefaultMaxSealedMemtables is the default number of sealed-but-
	// unflushed memtables a partition may accumulate before further
	// commits touching it block on the flush manager.
	DefaultMaxSealedMemtables = 4

	// DefaultMinThreshold is the default size-tiered compaction min
	// segment threshold.
	DefaultMinThreshold = 4

	// DefaultMaxThreshold is the default size-tiered compaction max
	// segment threshold.
	DefaultMaxThreshold = 8

	// DefaultLevelCount is the default number of levels maintained by the
	// levels manifest.
	DefaultLevelCount = 7

	// DefaultJournalDirectory is the default subdirectory, within the
	// keyspace directory, that holds the shared write-ahead log.
	DefaultJournalDirectory = "journal"

	// MinBlockSize is the smallest allowed segment block size (4KB).
	MinBlockSize uint32 = 4 * 1024

	// DefaultBlockSize is the default segment block size (64KB).
	DefaultBlockSize uint32 = 64 * 1024

	// DefaultBlockCacheSize is the default capacity, in decoded blocks,
	// of the shared LRU block cache.
	DefaultBlockCacheSize = 1024

	// DefaultBloomFalsePositiveRate is the default target false-positive
	// rate for segment bloom filters.
	DefaultBloomFalsePositiveRate = 0.01
)

// defaultOptions holds the default configuration for an emberdb keyspace.
var defaultOptions = Options{
	DataDir:         DefaultDataDir,
	FlushInterval:   DefaultFlushInterval,
	CompactInterval: DefaultCompactInterval,
	MemtableOptions: &memtableOptions{
		MaxSize:            DefaultMemtableSize,
		MaxSealedMemtables: DefaultMaxSealedMemtables,
	},
	CompactionOptions: &compactionOptions{
		MinThreshold: DefaultMinThreshold,
		MaxThreshold: DefaultMaxThreshold,
		LevelCount:   DefaultLevelCount,
	},
	JournalOptions: &journalOptions{
		Mode:      FlushModeSyncAll,
		Directory: DefaultJournalDirectory,
	},
	SegmentOptions: &segmentOptions{
		BlockSize:              DefaultBlockSize,
		BlockCacheSize:         DefaultBlockCacheSize,
		BloomFalsePositiveRate: DefaultBloomFalsePositiveRate,
	},
}

// NewDefaultOptions returns a fresh copy of the default configuration.
// Each call allocates new nested option structs so callers can mutate the
// result without aliasing the package-level default.
func NewDefaultOptions() Options {
	o := defaultOptions
	mt := *defaultOptions.MemtableOptions
	co := *defaultOptions.CompactionOptions
	jo := *defaultOptions.JournalOptions
	so := *defaultOptions.SegmentOptions
	o.MemtableOptions = &mt
	o.CompactionOptions = &co
	o.JournalOptions = &jo
	o.SegmentOptions = &so
	return o
}
