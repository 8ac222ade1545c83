package errors

import "fmt"

// CorruptionError is a specialized error type for on-disk data that failed
// an integrity check: a broken journal frame, a manifest that failed its
// CRC, or a segment whose block checksum doesn't match. It embeds baseError
// to inherit standard error functionality, then adds fields that help
// correlate the corruption with a specific file and position.
type CorruptionError struct {
	*baseError
	reason string // Human-readable description of what invariant was violated.
}

// NewCorruptionError creates a new corruption-specific error.
func NewCorruptionError(err error, code ErrorCode, reason string) *CorruptionError {
	return &CorruptionError{
		baseError: NewBaseError(err, code, fmt.Sprintf("data corruption detected: %s", reason)),
		reason:    reason,
	}
}

// WithDetail adds contextual information while preserving the CorruptionError type.
func (ce *CorruptionError) WithDetail(key string, value any) *CorruptionError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// Reason returns the human-readable description of the violated invariant.
func (ce *CorruptionError) Reason() string {
	return ce.reason
}

// DeserializeError is returned by the journal marker and manifest record
// codecs. Exactly one of its fields is meaningful at a time, mirroring the
// tagged-union shape of the original design
// (DeserializeError::InvalidTag/Io/Crc).
type DeserializeError struct {
	// Tag is set when an unknown frame tag byte was read. Zero otherwise.
	Tag byte
	// TagSet reports whether Tag carries a meaningful value (since 0 is a
	// valid tag — the Start marker — it can't double as a zero-value sentinel).
	TagSet bool
	// Cause is set when the underlying reader returned an I/O error,
	// typically io.ErrUnexpectedEOF for a frame truncated mid-read.
	Cause error
	// ExpectedCRC and GotCRC are both set when a CRC check failed.
	ExpectedCRC uint32
	GotCRC      uint32
	CRCSet      bool
}

func (e *DeserializeError) Error() string {
	switch {
	case e.TagSet:
		return fmt.Sprintf("deserialize: invalid tag %d", e.Tag)
	case e.CRCSet:
		return fmt.Sprintf("deserialize: crc mismatch: expected %d, got %d", e.ExpectedCRC, e.GotCRC)
	case e.Cause != nil:
		return fmt.Sprintf("deserialize: io error: %v", e.Cause)
	default:
		return "deserialize: unknown error"
	}
}

func (e *DeserializeError) Unwrap() error {
	return e.Cause
}

// NewInvalidTagError builds a DeserializeError for an unrecognized tag byte.
func NewInvalidTagError(tag byte) *DeserializeError {
	return &DeserializeError{Tag: tag, TagSet: true}
}

// NewDeserializeIOError wraps an I/O error encountered mid-frame.
func NewDeserializeIOError(cause error) *DeserializeError {
	return &DeserializeError{Cause: cause}
}

// NewCRCMismatchError builds a DeserializeError for a failed checksum check.
func NewCRCMismatchError(expected, got uint32) *DeserializeError {
	return &DeserializeError{ExpectedCRC: expected, GotCRC: got, CRCSet: true}
}
