package txn

import (
	"bytes"
	"sort"

	"github.com/emberdb/emberdb/internal/kv"
)

// overlay is a write transaction's private, per-partition staging area.
// Unlike internal/memtable's skip list — built for an ever-growing
// history of distinct (key, seqno) versions — every staged write here
// shares the same provisional kv.MaxSeqNo, so a second write to the same
// key within one transaction must overwrite in place rather than add a
// new version. A plain map captures that "latest write wins" semantics
// directly; sortedValues pays the sort cost only when a transaction
// actually ranges or commits.
type overlay struct {
	entries map[string]kv.InternalValue
}

func newOverlay() *overlay {
	return &overlay{entries: make(map[string]kv.InternalValue)}
}

func (o *overlay) put(key, value []byte) {
	k := append([]byte(nil), key...)
	o.entries[string(k)] = kv.InternalValue{Key: k, Value: append([]byte(nil), value...), SeqNo: kv.MaxSeqNo, Kind: kv.ValueKindValue}
}

func (o *overlay) delete(key []byte) {
	k := append([]byte(nil), key...)
	o.entries[string(k)] = kv.InternalValue{Key: k, SeqNo: kv.MaxSeqNo, Kind: kv.ValueKindTombstone}
}

func (o *overlay) get(key []byte) (kv.InternalValue, bool) {
	v, ok := o.entries[string(key)]
	return v, ok
}

// sortedValues returns every staged entry in ascending key order,
// including tombstones — callers decide whether to surface them.
func (o *overlay) sortedValues() []kv.InternalValue {
	out := make([]kv.InternalValue, 0, len(o.entries))
	for _, v := range o.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}
