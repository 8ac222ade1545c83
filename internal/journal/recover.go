package journal

import (
	stdErrors "errors"
	"io"
	"os"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
	"go.uber.org/zap"
)

// RecoveredBatch is one well-formed batch read back from the journal
// during crash recovery.
type RecoveredBatch struct {
	SeqNo kv.SeqNo
	Items []Item
}

// Recover replays path in file order, yielding every well-formed batch.
// The first broken frame — a bad item count, a CRC mismatch, a truncated
// read, or a Start before the prior End — and everything after it is
// discarded: the caller (the keyspace, on Open) should then truncate the
// journal file to validOffset so future appends start clean.
//
// Recovery is idempotent: replaying an unchanged file always yields the
// same batches.
func Recover(path string, log *zap.SugaredLogger) (batches []RecoveredBatch, validOffset int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to open journal for recovery").
			WithPath(path)
	}
	defer file.Close()

	var offset int64
	for {
		batch, n, rerr := readBatch(file)
		if rerr != nil {
			if stdErrors.Is(rerr, io.EOF) {
				break
			}
			if log != nil {
				log.Warnw("journal recovery stopped at broken frame", "offset", offset, "reason", rerr)
			}
			break
		}
		batches = append(batches, batch)
		offset += n
	}

	return batches, offset, nil
}

// readBatch reads exactly one Start+Items+End frame starting at the
// reader's current position, returning the batch and the number of bytes
// consumed. Any deviation from the expected frame shape is reported as a
// *emberrors.DeserializeError.
func readBatch(r io.Reader) (RecoveredBatch, int64, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return RecoveredBatch{}, 0, err
	}
	if tag[0] != tagStart {
		return RecoveredBatch{}, 0, emberrors.NewInvalidTagError(tag[0])
	}

	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return RecoveredBatch{}, 0, emberrors.NewDeserializeIOError(unexpectedEOF(err))
	}
	itemCount := beU32(header[0:4])
	seqNo := beU64(header[4:12])

	var consumed int64 = 1 + 12
	items := make([]Item, 0, itemCount)
	itemBytes := make([][]byte, 0, itemCount)

	for i := uint32(0); i < itemCount; i++ {
		var itemTag [1]byte
		if _, err := io.ReadFull(r, itemTag[:]); err != nil {
			return RecoveredBatch{}, 0, emberrors.NewDeserializeIOError(unexpectedEOF(err))
		}
		if itemTag[0] == tagStart {
			return RecoveredBatch{}, 0, emberrors.NewInvalidTagError(itemTag[0])
		}
		if itemTag[0] != tagItem {
			return RecoveredBatch{}, 0, emberrors.NewInvalidTagError(itemTag[0])
		}

		item, encoded, err := decodeItem(r)
		if err != nil {
			return RecoveredBatch{}, 0, emberrors.NewDeserializeIOError(unexpectedEOF(err))
		}
		items = append(items, item)
		itemBytes = append(itemBytes, encoded)
		consumed += int64(len(encoded))
	}

	var endTag [1]byte
	if _, err := io.ReadFull(r, endTag[:]); err != nil {
		return RecoveredBatch{}, 0, emberrors.NewDeserializeIOError(unexpectedEOF(err))
	}
	if endTag[0] != tagEnd {
		return RecoveredBatch{}, 0, emberrors.NewInvalidTagError(endTag[0])
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return RecoveredBatch{}, 0, emberrors.NewDeserializeIOError(unexpectedEOF(err))
	}
	consumed += 1 + 4

	expected := beU32(crcBuf[:])
	got := checksum(itemBytes)
	if expected != got {
		return RecoveredBatch{}, 0, emberrors.NewCRCMismatchError(expected, got)
	}

	return RecoveredBatch{SeqNo: seqNo, Items: items}, consumed, nil
}

// unexpectedEOF upgrades a clean io.EOF into io.ErrUnexpectedEOF: once a
// frame's Start tag has been consumed, any EOF before its End marker means
// the frame was truncated mid-write, not that the log ended cleanly.
func unexpectedEOF(err error) error {
	if stdErrors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
