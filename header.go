package kvstore

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed on-disk header: 1 byte max_key_length, a
// 4-byte record count, an 8-byte pointer to the start of the data
// region. All multi-byte fields are big-endian.
const headerSize = 13

const (
	numRecordsOffset   = 1
	dataStartPtrOffset = 5
)

type fileHeader struct {
	MaxKeyLength uint8
	NumRecords   int32
	DataStartPtr int64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.MaxKeyLength
	binary.BigEndian.PutUint32(buf[numRecordsOffset:numRecordsOffset+4], uint32(h.NumRecords))
	binary.BigEndian.PutUint64(buf[dataStartPtrOffset:dataStartPtrOffset+8], uint64(h.DataStartPtr))
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, fmt.Errorf("%w: header shorter than %d bytes", ErrCorruptHeader, headerSize)
	}

	h := fileHeader{
		MaxKeyLength: buf[0],
		NumRecords:   int32(binary.BigEndian.Uint32(buf[numRecordsOffset : numRecordsOffset+4])),
		DataStartPtr: int64(binary.BigEndian.Uint64(buf[dataStartPtrOffset : dataStartPtrOffset+8])),
	}

	if h.MaxKeyLength < 1 || h.MaxKeyLength > 252 {
		return fileHeader{}, fmt.Errorf("%w: max_key_length %d out of range [1,252]", ErrCorruptHeader, h.MaxKeyLength)
	}
	if h.NumRecords < 0 {
		return fileHeader{}, fmt.Errorf("%w: negative record count %d", ErrCorruptHeader, h.NumRecords)
	}
	if h.DataStartPtr < headerSize {
		return fileHeader{}, fmt.Errorf("%w: data_start_ptr %d before end of header", ErrCorruptHeader, h.DataStartPtr)
	}

	return h, nil
}

func encodeNumRecords(n int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

func encodeDataStartPtr(p int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(p))
	return buf
}

// slotSize returns the fixed size of one index slot: a key area of
// max_key_length bytes followed by a 20-byte envelope.
func slotSize(maxKeyLength uint8) int32 {
	return int32(maxKeyLength) + envelopeSize
}

// keyMaxLen returns the longest key that fits a slot's key area,
// accounting for the 1-byte length prefix and 4-byte key CRC.
func keyMaxLen(maxKeyLength uint8) int {
	return int(maxKeyLength) - 5
}
