package record

import "encoding/binary"

// HintHeaderLen is the size of a hint record header:
// key_len(1) + value_len(2) + value_offset(4). Hints carry no CRC and
// no value bytes; they exist purely to accelerate directory rebuild.
const HintHeaderLen = 7

// HintHeader is a decoded hint record header.
type HintHeader struct {
	KeyLen      int
	ValueLen    uint16 // Tombstone sentinel included
	ValueOffset uint32
}

func (h HintHeader) IsTombstone() bool { return h.ValueLen == Tombstone }

// EncodeHintLive serializes a hint record for a live key.
func EncodeHintLive(key []byte, valueOffset uint32, valueLen uint16) ([]byte, error) {
	if err := ValidateKeyLen(len(key)); err != nil {
		return nil, err
	}

	buf := make([]byte, HintHeaderLen+len(key))
	buf[0] = byte(len(key))
	binary.LittleEndian.PutUint16(buf[1:3], valueLen)
	binary.LittleEndian.PutUint32(buf[3:7], valueOffset)
	copy(buf[HintHeaderLen:], key)
	return buf, nil
}

// EncodeHintTombstone serializes a hint record marking key as deleted.
func EncodeHintTombstone(key []byte) ([]byte, error) {
	if err := ValidateKeyLen(len(key)); err != nil {
		return nil, err
	}

	buf := make([]byte, HintHeaderLen+len(key))
	buf[0] = byte(len(key))
	binary.LittleEndian.PutUint16(buf[1:3], Tombstone)
	copy(buf[HintHeaderLen:], key)
	return buf, nil
}

// DecodeHintHeader parses the first HintHeaderLen bytes of hdr.
func DecodeHintHeader(hdr []byte) HintHeader {
	return HintHeader{
		KeyLen:      int(hdr[0]),
		ValueLen:    binary.LittleEndian.Uint16(hdr[1:3]),
		ValueOffset: binary.LittleEndian.Uint32(hdr[3:7]),
	}
}
