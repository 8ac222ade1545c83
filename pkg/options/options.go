// Package options provides data structures and functions for configuring
// an emberdb keyspace. It defines the parameters that control memtable
// sizing, compaction behavior, journal durability, and on-disk layout.
package options

import (
	"strings"
	"time"
)

// FlushMode controls how aggressively the journal syncs appended batches
// to disk before an append call returns.
type FlushMode int

const (
	// FlushModeSyncAll calls File.Sync() after every append, fsyncing both
	// data and metadata. Strongest durability, highest latency.
	FlushModeSyncAll FlushMode = iota

	// FlushModeSyncData also calls File.Sync() after every append. Go's
	// standard library does not expose a data-only sync distinct from a
	// full sync (unlike fdatasync on some platforms), so this mode is
	// currently identical to FlushModeSyncAll — kept as a distinct value
	// so callers can express intent and the behavior can diverge later
	// if an OS-specific fdatasync path is added.
	FlushModeSyncData

	// FlushModeBuffered never syncs explicitly, leaving durability to the
	// operating system's own write-back schedule. Fastest, weakest.
	FlushModeBuffered
)

// compactionOptions defines configurable parameters for the default
// size-tiered compaction strategy.
type compactionOptions struct {
	// MinThreshold is the minimum number of segments a level must hold
	// before it becomes eligible as a compaction source.
	//
	//  - Default: 4
	//  - Minimum: 1
	MinThreshold int `json:"minThreshold"`

	// MaxThreshold caps how many segments from an eligible level are
	// compacted together in a single run.
	//
	//  - Default: 8
	//  - Minimum: MinThreshold
	MaxThreshold int `json:"maxThreshold"`

	// LevelCount is the number of levels the levels manifest maintains.
	// The last level is never a compaction source.
	//
	// Default: 7
	LevelCount int `json:"levelCount"`
}

// memtableOptions defines configurable parameters for the in-memory write
// buffer shared by every partition.
type memtableOptions struct {
	// MaxSize is the approximate byte size (sum of key+value lengths
	// across all entries) at which an active memtable is sealed and
	// queued for flush to a new level-0 segment.
	//
	//  - Default: 64MB
	//  - Minimum: 1MB
	MaxSize uint64 `json:"maxSize"`

	// MaxSealedMemtables is the number of sealed-but-unflushed memtables a
	// partition may accumulate before further commits touching it block,
	// waiting on a condition variable the flush manager signals after
	// every flush.
	//
	//  - Default: 4
	//  - Minimum: 1
	MaxSealedMemtables int `json:"maxSealedMemtables"`
}

// journalOptions defines configurable parameters for the shared
// write-ahead log.
type journalOptions struct {
	// Mode controls the fsync behavior of each append.
	//
	// Default: FlushModeSyncAll
	Mode FlushMode `json:"mode"`

	// Directory names the journal's subdirectory within the keyspace
	// directory.
	//
	// Default: "journal"
	Directory string `json:"directory"`
}

// segmentOptions defines configurable parameters for on-disk segment
// files written by the segment store.
type segmentOptions struct {
	// BlockSize is the target size, in bytes, of a single data block
	// inside a segment file before the writer starts a new block.
	//
	//  - Default: 64KB
	//  - Minimum: 4KB
	BlockSize uint32 `json:"blockSize"`

	// BlockCacheSize is the maximum number of decoded blocks held in the
	// shared LRU block cache, across all open segments.
	//
	// Default: 1024
	BlockCacheSize int `json:"blockCacheSize"`

	// BloomFalsePositiveRate is the target false-positive rate for each
	// segment's bloom filter.
	//
	// Default: 0.01
	BloomFalsePositiveRate float64 `json:"bloomFalsePositiveRate"`
}

// Options defines the configuration parameters for an emberdb keyspace.
// It provides control over storage layout, durability, and background
// maintenance.
type Options struct {
	// DataDir is the base path where the keyspace's journal, manifests,
	// and segment files are stored.
	//
	// Default: "/var/lib/emberdb"
	DataDir string `json:"dataDir"`

	// FlushInterval is how often the background flush worker checks for
	// sealed memtables awaiting a flush to level 0, independent of the
	// size-triggered seal.
	//
	// Default: 500ms
	FlushInterval time.Duration `json:"flushInterval"`

	// CompactInterval is how often the background compaction worker asks
	// the strategy whether any level is eligible for compaction.
	//
	// Default: 5s
	CompactInterval time.Duration `json:"compactInterval"`

	// MemtableOptions configures the active/sealed memtable lifecycle.
	MemtableOptions *memtableOptions `json:"memtableOptions"`

	// CompactionOptions configures the size-tiered compaction strategy.
	CompactionOptions *compactionOptions `json:"compactionOptions"`

	// JournalOptions configures the shared write-ahead log.
	JournalOptions *journalOptions `json:"journalOptions"`

	// SegmentOptions configures on-disk segment layout and caching.
	SegmentOptions *segmentOptions `json:"segmentOptions"`
}

// OptionFunc is a function type that modifies a keyspace's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		def := NewDefaultOptions()
		*o = def
	}
}

// WithDataDir sets the base data directory for the keyspace.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithFlushInterval sets the background flush worker's poll interval.
func WithFlushInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.FlushInterval = interval
		}
	}
}

// WithCompactInterval sets the background compaction worker's poll interval.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactInterval = interval
		}
	}
}

// WithMemtableMaxSize sets the byte threshold at which an active memtable
// is sealed.
func WithMemtableMaxSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinMemtableSize {
			o.MemtableOptions.MaxSize = size
		}
	}
}

// WithMaxSealedMemtables sets how many sealed-but-unflushed memtables a
// partition may accumulate before commits touching it block on the flush
// manager's condition variable. Ignored if count is below
// MinMaxSealedMemtables.
func WithMaxSealedMemtables(count int) OptionFunc {
	return func(o *Options) {
		if count >= MinMaxSealedMemtables {
			o.MemtableOptions.MaxSealedMemtables = count
		}
	}
}

// WithCompactionThresholds sets the size-tiered strategy's min and max
// segment thresholds. Ignored if min is below 1 or max is below min.
func WithCompactionThresholds(min, max int) OptionFunc {
	return func(o *Options) {
		if min >= 1 && max >= min {
			o.CompactionOptions.MinThreshold = min
			o.CompactionOptions.MaxThreshold = max
		}
	}
}

// WithLevelCount sets the number of levels the manifest maintains.
func WithLevelCount(count int) OptionFunc {
	return func(o *Options) {
		if count >= 1 {
			o.CompactionOptions.LevelCount = count
		}
	}
}

// WithFlushMode sets the journal's durability mode.
func WithFlushMode(mode FlushMode) OptionFunc {
	return func(o *Options) {
		o.JournalOptions.Mode = mode
	}
}

// WithJournalDirectory sets the journal's subdirectory name.
func WithJournalDirectory(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.JournalOptions.Directory = directory
		}
	}
}

// WithBlockSize sets the segment writer's target block size in bytes.
func WithBlockSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size >= MinBlockSize {
			o.SegmentOptions.BlockSize = size
		}
	}
}

// WithBlockCacheSize sets the shared LRU block cache's capacity.
func WithBlockCacheSize(entries int) OptionFunc {
	return func(o *Options) {
		if entries > 0 {
			o.SegmentOptions.BlockCacheSize = entries
		}
	}
}

// WithBloomFalsePositiveRate sets the target false-positive rate used
// when sizing each segment's bloom filter.
func WithBloomFalsePositiveRate(rate float64) OptionFunc {
	return func(o *Options) {
		if rate > 0 && rate < 1 {
			o.SegmentOptions.BloomFalsePositiveRate = rate
		}
	}
}
