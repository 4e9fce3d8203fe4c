package logio

import (
	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/record"
	"github.com/mrkeg/bitkv/internal/store"
)

// ValuePos is the part of a Position relevant while folding a single
// already-known segment: the segment id itself is implicit.
type ValuePos struct {
	ValueOffset uint32
	ValueLen    uint16
}

// Key is one record observed while folding a segment: its bytes, and
// where its value lives (nil for a tombstone).
type Key struct {
	Bytes    []byte
	ValuePos *ValuePos
}

// Fold walks segmentID from offset 0 until it runs out of records,
// threading acc through fn for each one. A short read that lands
// exactly on a record boundary (i.e., reading the next header returns
// nothing) ends the fold normally; any other short read — a header
// that starts but doesn't finish, or a key/value cut short — is
// errs.ErrBadEntry, since those only happen to a genuinely torn
// mid-segment write.
func Fold[A any](s *store.Store, segmentID uint32, acc A, fn func(A, Key) (A, error)) (A, error) {
	var offset int64

	for {
		hdr := make([]byte, record.HeaderLen)
		n, err := s.ReadAt(segmentID, offset, hdr)
		if err != nil {
			return acc, err
		}
		if n == 0 {
			return acc, nil
		}
		if n != record.HeaderLen {
			return acc, errs.ErrBadEntry
		}

		h := record.DecodeHeader(hdr)
		if err := record.ValidateKeyLen(h.KeyLen); err != nil {
			return acc, errs.ErrBadEntry
		}

		body := make([]byte, h.BodyLen())
		n, err = s.ReadAt(segmentID, offset+int64(record.HeaderLen), body)
		if err != nil {
			return acc, err
		}
		if n != len(body) {
			return acc, errs.ErrBadEntry
		}

		key := body[:h.KeyLen]
		var vp *ValuePos
		if !h.IsTombstone() {
			vp = &ValuePos{
				ValueOffset: uint32(offset) + uint32(record.HeaderLen) + uint32(h.KeyLen),
				ValueLen:    h.ValueLen,
			}
		}

		acc, err = fn(acc, Key{Bytes: key, ValuePos: vp})
		if err != nil {
			return acc, err
		}

		offset += int64(record.HeaderLen) + int64(h.BodyLen())
	}
}
