package kvstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// Insert adds a new key/value pair. It fails with ErrDuplicateKey if the
// key already exists, ErrKeyTooLong if the key is empty or longer than
// the configured maximum, and ErrValueTooLarge if the encoded value
// frame would not fit in a 32-bit capacity.
func (s *Store) Insert(key, value []byte) error {
	return s.withLock(func() error {
		if l := len(key); l == 0 || l > keyMaxLen(s.header.MaxKeyLength) {
			return ErrKeyTooLong
		}
		if _, ok := s.ix.byKey[string(key)]; ok {
			return ErrDuplicateKey
		}
		if payloadBytes(len(value), s.cfg.ValueCRCEnabled) > math.MaxInt32 {
			return ErrValueTooLarge
		}

		if err := s.ensureIndexSpace(s.header.NumRecords + 1); err != nil {
			return err
		}

		env, err := s.allocate(len(value))
		if err != nil {
			return err
		}
		env.DataCount = int32(len(value))

		frame := encodeValueFrame(value, env.DataCapacity, s.cfg.ValueCRCEnabled)
		if err := s.backend.WriteAt(frame, env.DataPointer); err != nil {
			return err
		}
		if err := s.appendSlot(key, env); err != nil {
			return err
		}

		s.ix.insert(key, env, s.cfg.ValueCRCEnabled)
		return nil
	})
}

// Read returns a copy of the value stored for key, or ErrNotFound.
func (s *Store) Read(key []byte) ([]byte, error) {
	var out []byte
	err := s.withLock(func() error {
		env, ok := s.ix.byKey[string(key)]
		if !ok {
			return ErrNotFound
		}
		v, err := s.readValue(env)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *Store) readValue(env *Envelope) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if err := s.backend.ReadAt(lenBuf, env.DataPointer); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)

	crcLen := int32(0)
	if s.cfg.ValueCRCEnabled {
		crcLen = 4
	}
	if int64(4+n)+int64(crcLen) > int64(env.DataCapacity) {
		return nil, fmt.Errorf("%w: declared length %d exceeds capacity %d", ErrCorruptValue, n, env.DataCapacity)
	}

	payload := make([]byte, n)
	if err := s.backend.ReadAt(payload, env.DataPointer+4); err != nil {
		return nil, err
	}

	if s.cfg.ValueCRCEnabled {
		crcBuf := make([]byte, 4)
		if err := s.backend.ReadAt(crcBuf, env.DataPointer+4+int64(n)); err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(crcBuf) {
			return nil, ErrCrcMismatch
		}
	}

	return payload, nil
}

// Update replaces the value stored for an existing key, choosing
// in-place rewrite, in-place shrink, tail resize or relocation
// according to how the new value's size compares to the current
// envelope's capacity and position.
func (s *Store) Update(key, value []byte) error {
	return s.withLock(func() error {
		env, ok := s.ix.byKey[string(key)]
		if !ok {
			return ErrNotFound
		}

		newPayload := payloadBytes(len(value), s.cfg.ValueCRCEnabled)
		if newPayload > math.MaxInt32 {
			return ErrValueTooLarge
		}
		capacity := int64(env.DataCapacity)

		switch {
		case newPayload == capacity:
			return s.rewriteValueInPlace(env, value)
		case newPayload < capacity && s.allowInPlaceShrink():
			return s.rewriteValueInPlace(env, value)
		default:
			fileLen, err := s.backend.Len()
			if err != nil {
				return err
			}
			if env.DataPointer+capacity == fileLen {
				return s.resizeTailValue(env, value, newPayload)
			}
			return s.relocateValue(env, value)
		}
	})
}

func (s *Store) allowInPlaceShrink() bool {
	return s.cfg.ValueCRCEnabled || s.cfg.AllowInPlaceShrink
}

// rewriteValueInPlace handles both the same-size and shrink-in-place
// cases, which share an identical three-write sequence: a defensive
// re-stamp of the unchanged envelope, the new value frame, and a second
// envelope write carrying the updated live count and a fresh CRC.
func (s *Store) rewriteValueInPlace(env *Envelope, value []byte) error {
	if err := s.rewriteEnvelopeSlot(env); err != nil {
		return err
	}

	frame := encodeValueFrame(value, env.DataCapacity, s.cfg.ValueCRCEnabled)
	if err := s.backend.WriteAt(frame, env.DataPointer); err != nil {
		return err
	}

	env.DataCount = int32(len(value))
	if err := s.rewriteEnvelopeSlot(env); err != nil {
		return err
	}

	s.ix.reseatFreeSpace(env, s.cfg.ValueCRCEnabled)
	return nil
}

// resizeTailValue handles a grow or shrink of the record currently
// occupying the end of the file: the file is resized to match, then the
// value frame and envelope are rewritten as in rewriteValueInPlace.
func (s *Store) resizeTailValue(env *Envelope, value []byte, newPayload int64) error {
	if err := s.backend.SetLen(env.DataPointer + newPayload); err != nil {
		return err
	}
	env.DataCapacity = int32(newPayload)

	frame := encodeValueFrame(value, env.DataCapacity, s.cfg.ValueCRCEnabled)
	if err := s.backend.WriteAt(frame, env.DataPointer); err != nil {
		return err
	}

	env.DataCount = int32(len(value))
	if err := s.rewriteEnvelopeSlot(env); err != nil {
		return err
	}

	s.ix.reseatFreeSpace(env, s.cfg.ValueCRCEnabled)
	return nil
}

// relocateValue handles an update that can be neither rewritten in place
// nor resized at the tail (a grow, or a shrink when in-place shrink is
// not allowed): a fresh envelope is allocated elsewhere, the new value is
// written there, and the key's existing slot is rewritten to point at
// it. The old space is reclaimed only after that single envelope-slot
// write commits the move, so a crash before it leaves the key still
// readable at its old location and a crash after leaves at worst
// unreclaimed free space.
func (s *Store) relocateValue(env *Envelope, value []byte) error {
	fresh, err := s.allocate(len(value))
	if err != nil {
		return err
	}
	fresh.DataCount = int32(len(value))
	fresh.IndexPosition = env.IndexPosition
	fresh.Key = env.Key

	frame := encodeValueFrame(value, fresh.DataCapacity, s.cfg.ValueCRCEnabled)
	if err := s.backend.WriteAt(frame, fresh.DataPointer); err != nil {
		return err
	}
	if err := s.rewriteEnvelopeSlot(fresh); err != nil { // commit point
		return err
	}

	oldPointer := env.DataPointer
	oldCapacity := env.DataCapacity
	oldFsKey := env.fsKey
	*env = *fresh
	if oldFsKey != "" {
		s.ix.byFreeSpace.Delete(oldFsKey)
	}
	s.ix.relocate(env, oldPointer, s.cfg.ValueCRCEnabled)

	return s.reclaimDataSpan(oldPointer, oldCapacity)
}

// reclaimDataSpan folds a freed span back into the data region: it
// truncates the file if the span was the last thing in it, merges it
// into the immediately preceding record's capacity if one exists, or
// else advances data_start_ptr to absorb it into the front gap.
func (s *Store) reclaimDataSpan(pointer int64, capacity int32) error {
	fileLen, err := s.backend.Len()
	if err != nil {
		return err
	}
	if pointer+int64(capacity) == fileLen {
		return s.backend.SetLen(pointer)
	}

	if floor, ok := s.ix.byOffset.Floor(pointer - 1); ok {
		predecessor := floor.Value
		predecessor.DataCapacity += capacity
		if err := s.rewriteEnvelopeSlot(predecessor); err != nil {
			return err
		}
		s.ix.reseatFreeSpace(predecessor, s.cfg.ValueCRCEnabled)
		return nil
	}

	return s.writeDataStartPtr(pointer + int64(capacity))
}

// Delete removes key and reclaims its data span, or returns ErrNotFound.
func (s *Store) Delete(key []byte) error {
	return s.withLock(func() error {
		env, ok := s.ix.byKey[string(key)]
		if !ok {
			return ErrNotFound
		}

		pointer := env.DataPointer
		capacity := env.DataCapacity

		if err := s.swapDelete(env); err != nil {
			return err
		}
		s.ix.remove(key)

		return s.reclaimDataSpan(pointer, capacity)
	})
}

// Exists reports whether key is currently present.
func (s *Store) Exists(key []byte) (bool, error) {
	var found bool
	err := s.withLock(func() error {
		_, found = s.ix.byKey[string(key)]
		return nil
	})
	return found, err
}

// Size returns the current number of live keys.
func (s *Store) Size() (int, error) {
	var n int
	err := s.withLock(func() error {
		n = len(s.ix.byKey)
		return nil
	})
	return n, err
}

// Keys returns a defensive snapshot of every live key.
func (s *Store) Keys() ([]string, error) {
	var out []string
	err := s.withLock(func() error {
		out = make([]string, 0, len(s.ix.byKey))
		for k := range s.ix.byKey {
			out = append(out, k)
		}
		return nil
	})
	return out, err
}

// Sync fsyncs the underlying file.
func (s *Store) Sync() error {
	return s.withLock(func() error {
		return s.backend.Sync()
	})
}
