package kvstore

import "fmt"

// Envelope describes one data-region record: where its value frame
// lives, how much space it reserves, and how much of that space is
// actually used. Envelope is the record the spec's three in-memory
// indices (by_key, by_offset, by_free_space) all point at — one shared,
// owned object per live key, never copied, so that mutating it through
// one index is immediately visible through the others.
type Envelope struct {
	// DataPointer is the byte offset of the value frame in the file.
	DataPointer int64
	// DataCapacity is the total size reserved for the frame.
	DataCapacity int32
	// DataCount is the length of the live payload within the frame.
	DataCount int32
	// HeaderCRC32 is the CRC-32/IEEE of the envelope's first 16 bytes, as
	// last read from or written to disk.
	HeaderCRC32 uint32
	// IndexPosition is this record's current slot index; it changes
	// under swap-delete compaction.
	IndexPosition int32

	// Key caches the record's key bytes for swap-delete and predecessor
	// bookkeeping. It is never persisted as part of the envelope slot.
	Key []byte

	// fsKey is the composite key this envelope is currently stored under
	// in by_free_space, or "" if it isn't (free space is zero). Internal
	// bookkeeping only.
	fsKey string
}

// freeSpace returns the number of unused bytes within the envelope's
// capacity, given whether values carry a trailing CRC.
func (e *Envelope) freeSpace(valueCRCEnabled bool) int32 {
	return e.DataCapacity - e.usedPrefix(valueCRCEnabled)
}

// usedPrefix returns the number of bytes at the front of the capacity
// actually occupied by the length-prefixed payload (and its CRC, if
// enabled).
func (e *Envelope) usedPrefix(valueCRCEnabled bool) int32 {
	crcLen := int32(0)
	if valueCRCEnabled {
		crcLen = 4
	}
	return 4 + e.DataCount + crcLen
}

func (e Envelope) String() string {
	return fmt.Sprintf("envelope{ptr=%d cap=%d count=%d pos=%d}",
		e.DataPointer, e.DataCapacity, e.DataCount, e.IndexPosition)
}
