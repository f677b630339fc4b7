package kvstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// envelopeSize is the fixed, CRC-protected envelope trailing every key's
// slot: an 8-byte data pointer, a 4-byte capacity, a 4-byte live count,
// and a 4-byte CRC-32/IEEE over the three preceding fields.
const envelopeSize = 20

// encodeKeySlot builds a maxKeyLength-byte key area: a 1-byte length, the
// key bytes, a 4-byte CRC-32/IEEE of the key, and zero padding to fill
// out the slot.
func encodeKeySlot(key []byte, maxKeyLength uint8) []byte {
	buf := make([]byte, maxKeyLength)
	buf[0] = byte(len(key))
	copy(buf[1:], key)
	crc := crc32.ChecksumIEEE(key)
	binary.BigEndian.PutUint32(buf[1+len(key):1+len(key)+4], crc)
	return buf
}

// decodeKeySlot parses and validates a key area of exactly maxKeyLength
// bytes, returning a fresh copy of the key.
func decodeKeySlot(buf []byte, maxKeyLength uint8) ([]byte, error) {
	l := int(buf[0])
	maxAllowed := keyMaxLen(maxKeyLength)
	if l <= 0 || l > maxAllowed {
		return nil, fmt.Errorf("%w: key length %d out of range [1,%d]", ErrCorruptKey, l, maxAllowed)
	}

	key := make([]byte, l)
	copy(key, buf[1:1+l])

	storedCRC := binary.BigEndian.Uint32(buf[1+l : 1+l+4])
	if crc32.ChecksumIEEE(key) != storedCRC {
		return nil, fmt.Errorf("%w: key crc mismatch", ErrCorruptKey)
	}

	return key, nil
}

// encodeEnvelope builds the 20-byte envelope for e: data pointer,
// capacity, count, and a CRC-32/IEEE over those three fields.
func encodeEnvelope(e Envelope) []byte {
	buf := make([]byte, envelopeSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.DataPointer))
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.DataCapacity))
	binary.BigEndian.PutUint32(buf[12:16], uint32(e.DataCount))
	crc := crc32.ChecksumIEEE(buf[0:16])
	binary.BigEndian.PutUint32(buf[16:20], crc)
	return buf
}

// decodeEnvelope parses and validates a 20-byte envelope.
func decodeEnvelope(buf []byte) (Envelope, error) {
	storedCRC := binary.BigEndian.Uint32(buf[16:20])
	if crc32.ChecksumIEEE(buf[0:16]) != storedCRC {
		return Envelope{}, fmt.Errorf("%w: envelope crc mismatch", ErrCorruptHeader)
	}

	return Envelope{
		DataPointer:  int64(binary.BigEndian.Uint64(buf[0:8])),
		DataCapacity: int32(binary.BigEndian.Uint32(buf[8:12])),
		DataCount:    int32(binary.BigEndian.Uint32(buf[12:16])),
		HeaderCRC32:  storedCRC,
	}, nil
}

// payloadBytes returns the encoded size of a value of length valueLen: a
// 4-byte length prefix, the value itself, and (if enabled) a trailing
// 4-byte CRC.
func payloadBytes(valueLen int, valueCRCEnabled bool) int64 {
	n := int64(4 + valueLen)
	if valueCRCEnabled {
		n += 4
	}
	return n
}

// encodeValueFrame builds a capacity-byte frame: a 4-byte length, the
// payload, and (if valueCRCEnabled) a 4-byte CRC-32/IEEE of the payload.
// Bytes beyond the encoded portion are left zero.
func encodeValueFrame(payload []byte, capacity int32, valueCRCEnabled bool) []byte {
	buf := make([]byte, capacity)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if valueCRCEnabled {
		crc := crc32.ChecksumIEEE(payload)
		binary.BigEndian.PutUint32(buf[4+len(payload):4+len(payload)+4], crc)
	}
	return buf
}
