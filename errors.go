package kvstore

import "errors"

// Sentinel errors returned by the public API. Callers compare against
// these with errors.Is; wrapped context (offsets, lengths, underlying
// I/O errors) is appended with %w and does not change the match.
var (
	// ErrDuplicateKey is returned by Insert when the key already exists.
	ErrDuplicateKey = errors.New("kvstore: key already exists")

	// ErrNotFound is returned by Read, Update and Delete when the key is
	// not present.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrKeyTooLong is returned when a key is empty or longer than
	// max_key_length-5 bytes.
	ErrKeyTooLong = errors.New("kvstore: key length out of range")

	// ErrValueTooLarge is returned when a value's encoded frame would not
	// fit in a 32-bit capacity field.
	ErrValueTooLarge = errors.New("kvstore: value too large")

	// ErrIO wraps any underlying file I/O failure. A store that returns
	// ErrIO moves to the broken state and rejects further operations.
	ErrIO = errors.New("kvstore: io error")

	// ErrCorruptHeader is returned when the file header or an envelope's
	// CRC fails validation.
	ErrCorruptHeader = errors.New("kvstore: corrupt header")

	// ErrCorruptKey is returned when a key slot's length or CRC fails
	// validation.
	ErrCorruptKey = errors.New("kvstore: corrupt key slot")

	// ErrCorruptValue is returned when a value frame's declared length
	// does not fit within its envelope's capacity.
	ErrCorruptValue = errors.New("kvstore: corrupt value frame")

	// ErrCrcMismatch is returned when a value's stored CRC does not match
	// its bytes.
	ErrCrcMismatch = errors.New("kvstore: crc mismatch")

	// ErrIllegalState is returned by every public operation once the
	// store has moved to the broken or closed state.
	ErrIllegalState = errors.New("kvstore: illegal state")

	// ErrMaxKeyLengthMismatch is returned by Open when the caller
	// supplies an explicit max key length that disagrees with the one
	// stored in the file header.
	ErrMaxKeyLengthMismatch = errors.New("kvstore: max key length mismatch")

	// ErrCorruptFile is returned by recovery when the on-disk layout
	// violates an invariant the format depends on (index/data region
	// overlap, a record outside the file, a dangling offset pointer).
	ErrCorruptFile = errors.New("kvstore: corrupt file")
)

// isFatal reports whether err should move the store to the broken state.
// Validation errors (duplicate key, not found, key/value size) abort the
// current operation without touching the file and leave the store open.
func isFatal(err error) bool {
	return errors.Is(err, ErrIO) ||
		errors.Is(err, ErrCorruptHeader) ||
		errors.Is(err, ErrCorruptKey) ||
		errors.Is(err, ErrCorruptValue) ||
		errors.Is(err, ErrCrcMismatch) ||
		errors.Is(err, ErrCorruptFile)
}
