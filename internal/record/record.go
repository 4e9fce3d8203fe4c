// Package record implements the on-disk log record and hint record
// formats: encoding, decoding, and the length/CRC validation rules that
// guard the append path.
package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/mrkeg/bitkv/errs"
)

// Tombstone is the reserved value_len sentinel marking a deletion.
const Tombstone uint16 = 0xFFFF

// MaxValueLen is the largest value length a live record may carry;
// 0xFFFF is reserved for Tombstone.
const MaxValueLen = 0xFFFE

// MaxKeyLen is the largest key length a record may carry.
const MaxKeyLen = 255

// HeaderLen is the size in bytes of a log record header:
// crc32(4) + key_len(1) + value_len(2).
const HeaderLen = 7

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is a decoded log record header.
type Header struct {
	CRC      uint32
	KeyLen   int
	ValueLen uint16 // raw on-disk value, Tombstone sentinel included
}

// IsTombstone reports whether this header describes a deletion.
func (h Header) IsTombstone() bool { return h.ValueLen == Tombstone }

// BodyLen returns the number of key+value bytes that follow the header.
func (h Header) BodyLen() int {
	if h.IsTombstone() {
		return h.KeyLen
	}
	return h.KeyLen + int(h.ValueLen)
}

// ValidateKeyLen reports errs.ErrBadKeyLength if n is not a legal key length.
func ValidateKeyLen(n int) error {
	if n < 1 || n > MaxKeyLen {
		return errs.ErrBadKeyLength
	}
	return nil
}

// ValidateValueLen reports errs.ErrBadValueLength if n is not a legal
// live value length. The log writer additionally forbids n == 0 before
// calling this; record.EncodeLive only enforces the wire-format bound.
func ValidateValueLen(n int) error {
	if n < 0 || n > MaxValueLen {
		return errs.ErrBadValueLength
	}
	return nil
}

// EncodeLive serializes a live record: header + key + value.
func EncodeLive(key, value []byte) ([]byte, error) {
	if err := ValidateKeyLen(len(key)); err != nil {
		return nil, err
	}
	if err := ValidateValueLen(len(value)); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderLen+len(key)+len(value))
	buf[4] = byte(len(key))
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(value)))
	n := copy(buf[HeaderLen:], key)
	copy(buf[HeaderLen+n:], value)

	crc := crc32.Checksum(buf[4:], castagnoli)
	binary.LittleEndian.PutUint32(buf[0:4], crc)

	return buf, nil
}

// EncodeTombstone serializes a deletion marker for key.
func EncodeTombstone(key []byte) ([]byte, error) {
	if err := ValidateKeyLen(len(key)); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderLen+len(key))
	buf[4] = byte(len(key))
	binary.LittleEndian.PutUint16(buf[5:7], Tombstone)
	copy(buf[HeaderLen:], key)

	crc := crc32.Checksum(buf[4:], castagnoli)
	binary.LittleEndian.PutUint32(buf[0:4], crc)

	return buf, nil
}

// DecodeHeader parses the first HeaderLen bytes of hdr.
func DecodeHeader(hdr []byte) Header {
	return Header{
		CRC:      binary.LittleEndian.Uint32(hdr[0:4]),
		KeyLen:   int(hdr[4]),
		ValueLen: binary.LittleEndian.Uint16(hdr[5:7]),
	}
}

// Entry is a fully decoded live record.
type Entry struct {
	Key   []byte
	Value []byte
}

// Decode parses a full record (header + key [+ value]) already read
// into buf, verifying the CRC when verifyChecksum is set. buf must be
// exactly HeaderLen+h.BodyLen() bytes for the header it starts with.
// Decode returns (nil, nil) for a tombstone record and
// (nil, errs.ErrBadEntry) on a checksum mismatch.
func Decode(buf []byte, verifyChecksum bool) (*Entry, error) {
	if len(buf) < HeaderLen {
		return nil, errs.ErrBadEntry
	}
	h := DecodeHeader(buf[:HeaderLen])

	if len(buf) != HeaderLen+h.BodyLen() {
		return nil, errs.ErrBadEntry
	}

	if verifyChecksum {
		crc := crc32.Checksum(buf[4:], castagnoli)
		if crc != h.CRC {
			return nil, errs.ErrBadEntry
		}
	}

	if h.IsTombstone() {
		return nil, nil
	}

	key := buf[HeaderLen : HeaderLen+h.KeyLen]
	value := buf[HeaderLen+h.KeyLen:]
	return &Entry{Key: key, Value: value}, nil
}
