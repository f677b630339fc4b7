// Package kvstore implements a crash-safe, single-file, embedded
// key-value store.
//
// The store is a persistent mapping from opaque byte-string keys to
// opaque byte-string values, resident in one regular file, and designed
// to survive arbitrary process or power failure at any point during any
// write. All keys are held in memory; values are read from disk on
// demand.
//
// # On-disk layout
//
// The file begins with a fixed 13-byte header: a 1-byte maximum key
// length, a 4-byte record count, and an 8-byte pointer to the start of
// the data region, all big-endian. It is followed by a fixed-size index
// region of exactly num_records slots, each slot holding a length-
// prefixed, CRC-protected key area and a 20-byte envelope (data pointer,
// capacity, live count, CRC). The remainder of the file is the data
// region: a sequence of length-prefixed, optionally CRC-protected value
// frames, packed contiguously from data_start_ptr to the end of the
// file. A shrinking in-place update keeps the freed bytes inside its own
// frame; the span freed by a delete or a relocating update is truncated
// away if it ends the file, else folded into the preceding frame's
// capacity, else absorbed by advancing data_start_ptr. An interrupted
// write can leave an untracked gap behind, which recovery accepts.
//
// Deleting a key compacts its slot out of the index region by swapping
// in the last slot and shrinking the record count, rather than shifting
// every later slot down — an interrupted swap can at worst leave a
// stale duplicate-looking slot behind, which recovery tolerates and
// which Open's reconciliation pass resolves deterministically.
//
// Growing the index region (to make room for a new key once every slot
// is in use) works by relocating the front-most data record to the end
// of the file, one record at a time, until the gap above data_start_ptr
// is wide enough for one more slot.
//
// # Concurrency
//
// A Store serializes every public operation behind a single mutex. No
// operation is preempted or reordered relative to another; apart from
// Create's initial header write, fsync only happens on an explicit call
// to Sync or Close. Concurrent use from
// multiple processes against the same file is unsupported.
package kvstore

import (
	"sync"

	"go.uber.org/zap"
)

type state int32

const (
	stateOpen state = iota
	stateBroken
	stateClosed
)

// Store is a single open key-value file. Create a new one or reopen an
// existing one with Create or Open; always call Close when done.
type Store struct {
	mu      sync.Mutex
	state   state
	backend backend
	header  fileHeader
	cfg     Options
	ix      *indices
	log     *zap.SugaredLogger
}

// withLock serializes fn behind the store's mutex, rejects the call
// outright once the store has left the open state, and moves the store
// to the broken state if fn returns an error severe enough to mean the
// file can no longer be trusted (I/O failure, corruption). Validation
// errors such as ErrNotFound or ErrDuplicateKey leave the store open.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return ErrIllegalState
	}

	err := fn()
	if err != nil && isFatal(err) {
		s.state = stateBroken
		s.log.Errorw("store moved to broken state", "error", err)
	}
	return err
}

// Close fsyncs and closes the underlying file. Close is idempotent:
// calling it again after the store is already closed returns nil.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}

	err := s.backend.Sync()
	if cerr := s.backend.Close(); err == nil {
		err = cerr
	}
	s.state = stateClosed
	if err != nil {
		s.log.Errorw("error closing store", "error", err)
	}
	return err
}
