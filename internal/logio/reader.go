package logio

import (
	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/directory"
	"github.com/mrkeg/bitkv/internal/record"
	"github.com/mrkeg/bitkv/internal/store"
)

// Reader reads records and values back out of a Store.
type Reader struct {
	store *store.Store
}

func NewReader(s *store.Store) *Reader { return &Reader{store: s} }

// ReadValue is the checksum-free fast path used when the engine runs
// with verification disabled: it reads exactly pos.ValueLen bytes at
// pos.ValueOffset and returns them as-is. A short read — the position
// having been invalidated by a concurrent merge — is reported as
// errs.ErrBadEntry so the engine's get retry loop can re-consult the
// directory and try again.
func (r *Reader) ReadValue(pos directory.Position) ([]byte, error) {
	buf := make([]byte, pos.ValueLen)
	n, err := r.store.ReadAt(pos.SegmentID, int64(pos.ValueOffset), buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, errs.ErrBadEntry
	}
	return buf, nil
}

// ReadEntry reads and validates the full record (header + key + value)
// backing pos, verifying its CRC when verifyChecksum is set. It returns
// (nil, nil) for a tombstone or for a short read (the caller should
// retry against a fresh directory lookup), and (nil, errs.ErrBadEntry)
// when the record decodes but fails its checksum.
func (r *Reader) ReadEntry(pos directory.Position, keyLen int, verifyChecksum bool) (*record.Entry, error) {
	bodyLen := keyLen
	if pos.ValueLen != record.Tombstone {
		bodyLen += int(pos.ValueLen)
	}
	total := record.HeaderLen + bodyLen
	start := int64(pos.ValueOffset) - int64(record.HeaderLen) - int64(keyLen)
	if start < 0 {
		return nil, nil
	}

	buf := make([]byte, total)
	n, err := r.store.ReadAt(pos.SegmentID, start, buf)
	if err != nil {
		return nil, err
	}
	if n != total {
		return nil, nil
	}

	return record.Decode(buf, verifyChecksum)
}
