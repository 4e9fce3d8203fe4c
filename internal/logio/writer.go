// Package logio is the record-level layer over the segmented store: it
// turns key/value pairs into encoded records and offsets into decoded
// values, and provides the key-folding primitive bootstrap and the hint
// worker use to walk a segment without the store knowing anything about
// record framing.
package logio

import (
	"fmt"

	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/directory"
	"github.com/mrkeg/bitkv/internal/record"
	"github.com/mrkeg/bitkv/internal/store"
)

// Writer validates and appends records through a Store.
type Writer struct {
	store *store.Store
}

func NewWriter(s *store.Store) *Writer { return &Writer{store: s} }

// Append validates key/value, encodes a live record, appends it, syncs
// the store, and returns the position the value now lives at.
func (w *Writer) Append(key, value []byte) (directory.Position, error) {
	if err := record.ValidateKeyLen(len(key)); err != nil {
		return directory.Position{}, err
	}
	if len(value) == 0 {
		// record.ValidateValueLen allows 0, but the writer itself never
		// accepts an empty value — spec §4.3.
		return directory.Position{}, errs.ErrBadValueLength
	}

	buf, err := record.EncodeLive(key, value)
	if err != nil {
		return directory.Position{}, err
	}

	return w.append(buf, len(key), uint16(len(value)))
}

// AppendTombstone appends a deletion marker for key.
func (w *Writer) AppendTombstone(key []byte) (directory.Position, error) {
	buf, err := record.EncodeTombstone(key)
	if err != nil {
		return directory.Position{}, err
	}

	return w.append(buf, len(key), record.Tombstone)
}

func (w *Writer) append(buf []byte, keyLen int, valueLen uint16) (directory.Position, error) {
	segID, off, err := w.store.Append(buf)
	if err != nil {
		return directory.Position{}, fmt.Errorf("append record: %w", err)
	}

	if err := w.store.Sync(); err != nil {
		return directory.Position{}, fmt.Errorf("sync after append: %w", err)
	}

	valueOffset := off + int64(record.HeaderLen) + int64(keyLen)
	return directory.Position{
		SegmentID:   segID,
		ValueOffset: uint32(valueOffset),
		ValueLen:    valueLen,
	}, nil
}
