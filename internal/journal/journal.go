package journal

import (
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
	"github.com/emberdb/emberdb/pkg/filesys"
	"github.com/emberdb/emberdb/pkg/options"
	"go.uber.org/zap"
)

// FileName is the on-disk name of the single shared write-ahead log file
// within a keyspace's journal directory.
const FileName = "wal.log"

// ErrJournalClosed is returned by every operation on a closed journal.
var ErrJournalClosed = stdErrors.New("operation failed: cannot access closed journal")

// Journal is the keyspace's single shared write-ahead log. Every commit —
// regardless of which partitions it touches — appends exactly one batch
// frame here before any memtable is mutated.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	offset int64
	mode   options.FlushMode
	log    *zap.SugaredLogger
	closed bool
}

// Config holds the parameters needed to open a Journal.
type Config struct {
	Directory string
	Mode      options.FlushMode
	Logger    *zap.SugaredLogger
}

// Open creates the journal directory if needed and opens (or creates) the
// shared log file for appending, positioning at its current end.
func Open(config *Config) (*Journal, error) {
	if config == nil || config.Directory == "" || config.Logger == nil {
		return nil, emberrors.NewValidationError(
			nil, emberrors.ErrorCodeInvalidInput, "journal configuration is required",
		).WithField("config").WithRule("required")
	}

	if err := filesys.CreateDir(config.Directory, 0755, true); err != nil {
		return nil, emberrors.ClassifyDirectoryCreationError(err, config.Directory)
	}

	path := filepath.Join(config.Directory, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, emberrors.ClassifyFileOpenError(err, path, FileName)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to stat journal file").
			WithPath(path).WithFileName(FileName)
	}

	config.Logger.Infow("journal opened", "path", path, "size", stat.Size())

	return &Journal{
		file:   file,
		path:   path,
		offset: stat.Size(),
		mode:   config.Mode,
		log:    config.Logger,
	}, nil
}

// Append writes one batch frame (Start + Items + End) and returns the
// offset at which the frame began, so callers can correlate a sealed
// memtable with "everything before this offset is durable".
func (j *Journal) Append(seqNo kv.SeqNo, items []Item) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	frameStart := j.offset

	start := make([]byte, 1+4+8)
	start[0] = tagStart
	putU32(start[1:5], uint32(len(items)))
	putU64(start[5:13], seqNo)
	if _, err := j.file.Write(start); err != nil {
		return 0, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write journal start marker").
			WithPath(j.path).WithOffset(j.offset)
	}
	j.offset += int64(len(start))

	itemBytes := make([][]byte, 0, len(items))
	for _, it := range items {
		encoded, err := encodeItem(j.file, it)
		if err != nil {
			return 0, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write journal item").
				WithPath(j.path).WithOffset(j.offset)
		}
		j.offset += int64(len(encoded))
		itemBytes = append(itemBytes, encoded)
	}

	end := make([]byte, 1+4)
	end[0] = tagEnd
	putU32(end[1:5], checksum(itemBytes))
	if _, err := j.file.Write(end); err != nil {
		return 0, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to write journal end marker").
			WithPath(j.path).WithOffset(j.offset)
	}
	j.offset += int64(len(end))

	if j.mode != options.FlushModeBuffered {
		if err := j.file.Sync(); err != nil {
			return 0, emberrors.ClassifySyncError(err, FileName, j.path, j.offset)
		}
	}

	return frameStart, nil
}

// Offset returns the current end-of-file offset, used by the flush path
// to record "everything up to here is durable" before sealing a memtable.
func (j *Journal) Offset() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.offset
}

// TruncateTo truncates the journal file to the given offset. Called only
// once a flushed memtable is the oldest sealed memtable across every
// partition, so everything before offset is already durable in segments.
func (j *Journal) TruncateTo(offset int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	if err := j.file.Truncate(offset); err != nil {
		return emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to truncate journal").
			WithPath(j.path).WithOffset(offset)
	}
	if _, err := j.file.Seek(offset, 0); err != nil {
		return emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to reposition journal after truncate").
			WithPath(j.path).WithOffset(offset)
	}
	j.offset = offset
	return nil
}

// Close syncs and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	j.closed = true

	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return emberrors.ClassifySyncError(err, FileName, j.path, j.offset)
	}
	return j.file.Close()
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

// String implements fmt.Stringer for log-friendly debugging.
func (j *Journal) String() string {
	return fmt.Sprintf("Journal{path=%s, offset=%d}", j.path, j.offset)
}
