package keyspace

import (
	"github.com/emberdb/emberdb/internal/kv"
	"github.com/emberdb/emberdb/internal/tree"
)

// WriteSession grants one caller exclusive write access to the whole
// keyspace, matching the single-writer model: at most one write
// transaction or direct batch commit is ever in flight. internal/txn's
// WriteTransaction holds one for its entire lifetime so that every read
// it performs against committed state is stable until it commits or
// rolls back.
type WriteSession struct {
	ks    *Keyspace
	ended bool
}

// BeginWrite blocks until every other writer has finished, then returns
// a session holding exclusive write access. The caller must call Commit
// or Rollback exactly once to release it.
func (ks *Keyspace) BeginWrite() *WriteSession {
	ks.writeMu.Lock()
	return &WriteSession{ks: ks}
}

// Partition returns a handle to the named partition, creating it if
// needed. Safe to call while holding the session, since partition
// lookup never contends with writeMu.
func (s *WriteSession) Partition(name string) (*PartitionHandle, error) {
	return s.ks.Partition(name)
}

// CurrentSeqNo returns the highest seqno committed so far, stable for
// the duration of the session since no other writer can run
// concurrently.
func (s *WriteSession) CurrentSeqNo() kv.SeqNo {
	return s.ks.CurrentSeqNo()
}

// Commit durably applies items as a single atomic unit and releases the
// session. Returns the seqno assigned to the first item.
func (s *WriteSession) Commit(items []Item) (kv.SeqNo, error) {
	defer s.end()
	if s.ks.closed.Load() {
		return 0, ErrKeyspaceClosed
	}
	return s.ks.commitLocked(items)
}

// Rollback releases the session without applying any mutation. Since a
// write transaction never touches the keyspace until Commit, rollback is
// just releasing the writer lock.
func (s *WriteSession) Rollback() {
	s.end()
}

func (s *WriteSession) end() {
	if !s.ended {
		s.ended = true
		s.ks.writeMu.Unlock()
	}
}

// CurrentSeqNo returns the highest seqno assigned to any committed
// write so far. A read transaction captures this as its snapshot
// instant; 0 means nothing has ever been committed.
func (ks *Keyspace) CurrentSeqNo() kv.SeqNo {
	return kv.SeqNo(ks.nextSeq.Load() - 1)
}

// Snapshots returns the keyspace-wide counter of live read-snapshot
// seqnos, shared by every partition's compaction executor so a
// compaction never collapses away a version a live snapshot still needs.
func (ks *Keyspace) Snapshots() *tree.SnapshotCounter {
	return ks.snapshots
}
