package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/emberdb/emberdb/internal/kv"
	emberrors "github.com/emberdb/emberdb/pkg/errors"
	atomicfile "github.com/natefinch/atomic"
)

// FileName is the name of the levels manifest file within a partition's
// metadata directory.
const FileName = "MANIFEST"

const manifestVersion = 1

func corruptionErr(reason string) *emberrors.CorruptionError {
	return emberrors.NewCorruptionError(nil, emberrors.ErrorCodeManifestCorrupted, reason)
}

// NewPersistent creates a Levels manifest whose AtomicSwap calls persist to
// dir/FileName using write-temp, fsync, rename, fsync-dir semantics via
// natefinch/atomic, then restores it from any existing file on disk.
func NewPersistent(dir string, levelCount int) (*Levels, error) {
	path := filepath.Join(dir, FileName)
	levels := New(levelCount, func(ls []Level) error {
		return persistTo(path, ls)
	})

	existing, err := Load(path, levelCount)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		levels.Restore(existing)
	}
	return levels, nil
}

// persistTo encodes levels and atomically replaces the file at path.
// natefinch/atomic.WriteFile writes to a temp file in the same directory,
// fsyncs it, and renames it over the destination, which is sufficient to
// guarantee the manifest file is never observed half-written.
func persistTo(path string, levels []Level) error {
	buf, err := Encode(levels)
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to persist levels manifest").
			WithPath(path)
	}
	return nil
}

// Encode serializes levels to the on-disk wire format: a version byte, a
// level_count byte, then per level a u32 segment count followed by each
// segment's length-prefixed metadata, all covered by a trailing CRC32.
func Encode(levels []Level) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(manifestVersion)
	if len(levels) > 255 {
		return nil, fmt.Errorf("manifest: level count %d exceeds u8 range", len(levels))
	}
	body.WriteByte(byte(len(levels)))

	for _, lvl := range levels {
		if err := binary.Write(&body, binary.BigEndian, uint32(len(lvl.Segments))); err != nil {
			return nil, err
		}
		for _, seg := range lvl.Segments {
			if err := encodeSegment(&body, seg); err != nil {
				return nil, err
			}
		}
	}

	sum := crc32.ChecksumIEEE(body.Bytes())
	out := make([]byte, body.Len()+4)
	copy(out, body.Bytes())
	binary.BigEndian.PutUint32(out[body.Len():], sum)
	return out, nil
}

func encodeSegment(w *bytes.Buffer, seg SegmentMeta) error {
	if err := writeLenPrefixed(w, []byte(seg.ID)); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, seg.KeyRange.Min); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, seg.KeyRange.Max); err != nil {
		return err
	}
	for _, v := range []uint64{
		seg.MinSeqNo, seg.MaxSeqNo, seg.ItemCount, seg.TombstoneCount, seg.FileSize,
	} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func writeLenPrefixed(w *bytes.Buffer, b []byte) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("manifest: field of length %d exceeds u16 range", len(b))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Load reads and decodes the manifest file at path, returning nil levels
// (not an error) if the file does not yet exist. A CRC mismatch or
// malformed frame is reported as a corruption error.
func Load(path string, levelCount int) ([]Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, emberrors.NewStorageError(err, emberrors.ErrorCodeIO, "failed to read levels manifest").
			WithPath(path)
	}
	levels, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(levels) != levelCount {
		return nil, corruptionErr(
			fmt.Sprintf("levels manifest at %s has %d levels, expected %d", path, len(levels), levelCount),
		)
	}
	return levels, nil
}

// Decode is the inverse of Encode, verifying the trailing CRC32 before
// trusting any of the body.
func Decode(data []byte) ([]Level, error) {
	if len(data) < 4 {
		return nil, corruptionErr("levels manifest shorter than checksum trailer")
	}
	body := data[:len(data)-4]
	wantCRC := binary.BigEndian.Uint32(data[len(data)-4:])
	gotCRC := crc32.ChecksumIEEE(body)
	if wantCRC != gotCRC {
		return nil, corruptionErr(
			fmt.Sprintf("levels manifest checksum mismatch: want %08x got %08x", wantCRC, gotCRC),
		)
	}

	r := bytes.NewReader(body)
	var version, levelCount byte
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, corruptionErr("levels manifest truncated before version byte")
	}
	if version != manifestVersion {
		return nil, corruptionErr(fmt.Sprintf("unsupported levels manifest version %d", version))
	}
	if err := binary.Read(r, binary.BigEndian, &levelCount); err != nil {
		return nil, corruptionErr("levels manifest truncated before level count")
	}

	levels := make([]Level, levelCount)
	for i := 0; i < int(levelCount); i++ {
		var segCount uint32
		if err := binary.Read(r, binary.BigEndian, &segCount); err != nil {
			return nil, corruptionErr("levels manifest truncated before segment count")
		}
		var segs []SegmentMeta
		for j := uint32(0); j < segCount; j++ {
			seg, err := decodeSegment(r)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		}
		levels[i] = Level{Segments: segs}
	}
	return levels, nil
}

func decodeSegment(r *bytes.Reader) (SegmentMeta, error) {
	id, err := readLenPrefixed(r)
	if err != nil {
		return SegmentMeta{}, err
	}
	minKey, err := readLenPrefixed(r)
	if err != nil {
		return SegmentMeta{}, err
	}
	maxKey, err := readLenPrefixed(r)
	if err != nil {
		return SegmentMeta{}, err
	}

	var minSeq, maxSeq, itemCount, tombCount, fileSize uint64
	for _, dst := range []*uint64{&minSeq, &maxSeq, &itemCount, &tombCount, &fileSize} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return SegmentMeta{}, corruptionErr("levels manifest truncated mid-segment")
		}
	}

	return SegmentMeta{
		ID:             string(id),
		KeyRange:       kv.KeyRange{Min: minKey, Max: maxKey},
		MinSeqNo:       kv.SeqNo(minSeq),
		MaxSeqNo:       kv.SeqNo(maxSeq),
		ItemCount:      itemCount,
		TombstoneCount: tombCount,
		FileSize:       fileSize,
	}, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, corruptionErr("levels manifest truncated before length prefix")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, corruptionErr("levels manifest truncated mid-field")
	}
	return buf, nil
}
