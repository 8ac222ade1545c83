package errors

import stdErrors "errors"

// ErrPoisoned is returned by every keyspace operation once the keyspace has
// entered a poisoned state: a seqno counter overflow, a memtable insert that
// failed despite being documented as infallible, or a compaction that failed
// repeatedly on the same segment set. A poisoned keyspace never recovers; it
// must be closed and reopened from its last durable state.
var ErrPoisoned = stdErrors.New("keyspace poisoned: a prior unrecoverable failure left the engine in an unusable state")

// IsPoisoned reports whether err is, or wraps, ErrPoisoned.
func IsPoisoned(err error) bool {
	return stdErrors.Is(err, ErrPoisoned)
}
