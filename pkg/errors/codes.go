package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification and map onto the error kinds the engine surfaces
// to callers: Io, Corruption, InvalidArgument, Poisoned.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary: journal appends, segment reads/writes, manifest
	// persistence.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents caller errors where the provided
	// data doesn't meet the engine's requirements (oversized keys, an
	// unknown partition name, malformed compaction thresholds).
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected failures that don't fit into
	// other categories: assertion failures, invariant violations.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"

	// ErrorCodePoisoned indicates the keyspace has entered an unusable state
	// after a prior unrecoverable failure (a failed memtable insert, a seqno
	// counter overflow, repeated compaction failure on the same segment set).
	ErrorCodePoisoned ErrorCode = "KEYSPACE_POISONED"
)

// Storage-specific error codes extend the base taxonomy to the unique
// failure modes of the journal, segment store, and levels manifest.
const (
	// ErrorCodeSegmentCorrupted indicates a segment file's data has been
	// damaged or is internally inconsistent (bad block checksum, truncated
	// index, missing bloom block).
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeManifestCorrupted indicates the levels manifest file failed
	// its CRC check or violated its length-prefixed framing on load.
	ErrorCodeManifestCorrupted ErrorCode = "MANIFEST_CORRUPTED"

	// ErrorCodeJournalCorrupted indicates a journal batch frame was broken:
	// item-count mismatch, CRC mismatch, a Start before the prior End, or
	// an EOF mid-frame.
	ErrorCodeJournalCorrupted ErrorCode = "JOURNAL_CORRUPTED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access
	// a resource. Distinct from a generic IO error because it has a
	// specific resolution path: adjust permissions or elevate privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates the filesystem is mounted
	// read-only.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Deserialization error codes cover the journal and manifest wire-format
// decoders (see DeserializeError).
const (
	// ErrorCodeInvalidTag indicates an unknown frame tag byte was read.
	ErrorCodeInvalidTag ErrorCode = "INVALID_TAG"

	// ErrorCodeCrcMismatch indicates a computed CRC didn't match the one
	// stored in the frame.
	ErrorCodeCrcMismatch ErrorCode = "CRC_MISMATCH"
)
