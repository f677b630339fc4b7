package kvstore

import (
	"encoding/binary"
	"fmt"
)

func (s *Store) keySlotOffset(indexPosition int32) int64 {
	ss := int64(slotSize(s.header.MaxKeyLength))
	return int64(headerSize) + int64(indexPosition)*ss
}

func (s *Store) envelopeOffset(indexPosition int32) int64 {
	return s.keySlotOffset(indexPosition) + int64(s.header.MaxKeyLength)
}

func (s *Store) rewriteEnvelopeSlot(env *Envelope) error {
	buf := encodeEnvelope(*env)
	if err := s.backend.WriteAt(buf, s.envelopeOffset(env.IndexPosition)); err != nil {
		return err
	}
	env.HeaderCRC32 = binary.BigEndian.Uint32(buf[16:20])
	return nil
}

func (s *Store) writeDataStartPtr(p int64) error {
	if err := s.backend.WriteAt(encodeDataStartPtr(p), dataStartPtrOffset); err != nil {
		return err
	}
	s.header.DataStartPtr = p
	return nil
}

func (s *Store) writeNumRecords(n int32) error {
	if err := s.backend.WriteAt(encodeNumRecords(n), numRecordsOffset); err != nil {
		return err
	}
	s.header.NumRecords = n
	return nil
}

// ensureIndexSpace grows the index region, if necessary, until it can
// hold requiredCount slots. On an empty store this is a single file
// extension; otherwise it repeatedly relocates the front-most data
// record to the end of the file until the index has room, per record.
func (s *Store) ensureIndexSpace(requiredCount int32) error {
	ss := int64(slotSize(s.header.MaxKeyLength))
	endIndex := int64(headerSize) + int64(requiredCount)*ss

	if s.header.NumRecords == 0 {
		fileLen, err := s.backend.Len()
		if err != nil {
			return err
		}
		if endIndex > fileLen {
			if err := s.backend.SetLen(endIndex); err != nil {
				return err
			}
		}
		if endIndex > s.header.DataStartPtr {
			if err := s.writeDataStartPtr(endIndex); err != nil {
				return err
			}
		}
		return nil
	}

	for endIndex > s.header.DataStartPtr {
		if err := s.relocateFrontRecord(); err != nil {
			return err
		}
	}
	return nil
}

// relocateFrontRecord moves the record currently sitting at
// data_start_ptr to the end of the file, freeing up one more slot's
// worth of room for the index to grow into. If an interrupted write left
// an untracked gap between data_start_ptr and the first record, it
// instead advances data_start_ptr to that record, folding the gap into
// the front gap. Once the store holds records, this is the only way the
// index region expands.
func (s *Store) relocateFrontRecord() error {
	entry, ok := s.ix.byOffset.Ceiling(s.header.DataStartPtr)
	if !ok {
		return fmt.Errorf("%w: no record found at data_start_ptr %d", ErrCorruptFile, s.header.DataStartPtr)
	}
	front := entry.Value
	if front.DataPointer != s.header.DataStartPtr {
		return s.writeDataStartPtr(front.DataPointer)
	}

	payload, err := s.readLivePayload(front)
	if err != nil {
		return err
	}

	fileLen, err := s.backend.Len()
	if err != nil {
		return err
	}
	newOffset := fileLen
	if err := s.backend.SetLen(fileLen + int64(front.DataCapacity)); err != nil {
		return err
	}

	frame := encodeValueFrame(payload, front.DataCapacity, s.cfg.ValueCRCEnabled)
	if err := s.backend.WriteAt(frame, newOffset); err != nil {
		return err
	}

	oldOffset := front.DataPointer
	front.DataPointer = newOffset
	if err := s.rewriteEnvelopeSlot(front); err != nil {
		return err
	}
	s.ix.relocate(front, oldOffset, s.cfg.ValueCRCEnabled)

	return s.writeDataStartPtr(oldOffset + int64(front.DataCapacity))
}

func (s *Store) readLivePayload(env *Envelope) ([]byte, error) {
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
	return payload, nil
}

// appendSlot writes a brand-new key/envelope pair into the next free
// slot and commits it by incrementing num_records.
func (s *Store) appendSlot(key []byte, env *Envelope) error {
	pos := s.header.NumRecords
	env.IndexPosition = pos

	if err := s.backend.WriteAt(encodeKeySlot(key, s.header.MaxKeyLength), s.keySlotOffset(pos)); err != nil {
		return err
	}
	if err := s.rewriteEnvelopeSlot(env); err != nil {
		return err
	}
	return s.writeNumRecords(pos + 1)
}

// swapDelete removes victim's slot by moving the last slot into its
// place (unless victim already is the last slot) and committing the
// removal by decrementing num_records.
func (s *Store) swapDelete(victim *Envelope) error {
	curCount := s.header.NumRecords
	lastPos := curCount - 1

	if victim.IndexPosition != lastPos {
		moved := s.ix.byPosition[lastPos]
		moved.IndexPosition = victim.IndexPosition

		if err := s.backend.WriteAt(encodeKeySlot(moved.Key, s.header.MaxKeyLength), s.keySlotOffset(victim.IndexPosition)); err != nil {
			return err
		}
		if err := s.rewriteEnvelopeSlot(moved); err != nil {
			return err
		}
	}

	if err := s.writeNumRecords(curCount - 1); err != nil {
		return err
	}

	s.ix.swapRemove(victim.IndexPosition)
	return nil
}
