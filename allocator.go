package kvstore

import "math"

// allocate chooses where a value of length valueLen will live, following
// the fixed decision order: the gap between the index region and the
// front of the data region, a reused free suffix of an existing
// envelope (first-fit-smallest), or an extension of the file. It never
// grows the index region (reusing a free suffix only rewrites the
// donor's existing envelope slot); callers needing room for one more
// slot must call ensureIndexSpace first.
func (s *Store) allocate(valueLen int) (*Envelope, error) {
	payload := payloadBytes(valueLen, s.cfg.ValueCRCEnabled)

	padded := payload
	if s.cfg.PadDataToIndexEntry {
		if sz := int64(slotSize(s.header.MaxKeyLength)); sz > padded {
			padded = sz
		}
	}
	if padded > math.MaxInt32 {
		return nil, ErrValueTooLarge
	}

	if env, ok, err := s.allocatePrefixGap(padded); err != nil || ok {
		return env, err
	}
	if env, ok, err := s.allocateFreeSpan(padded); err != nil || ok {
		return env, err
	}
	return s.allocateAppend(padded)
}

// allocatePrefixGap tries to carve the new envelope out of the gap
// between the end of the index region and data_start_ptr, leaving a
// reserve of two slots so ensureIndexSpace isn't immediately forced to
// relocate again on the very next insert.
func (s *Store) allocatePrefixGap(padded int64) (*Envelope, bool, error) {
	ss := int64(slotSize(s.header.MaxKeyLength))
	endIndex := int64(headerSize) + int64(s.header.NumRecords)*ss
	reserve := 2 * ss

	if padded > s.header.DataStartPtr-endIndex-reserve {
		return nil, false, nil
	}

	ptr := s.header.DataStartPtr - padded
	if err := s.writeDataStartPtr(ptr); err != nil {
		return nil, false, err
	}
	return &Envelope{DataPointer: ptr, DataCapacity: int32(padded)}, true, nil
}

// allocateFreeSpan scans by_free_space in ascending order (first-fit-
// smallest) for an existing envelope with enough unused suffix to carve
// the new envelope out of, shrinking the donor's capacity in place.
func (s *Store) allocateFreeSpan(padded int64) (*Envelope, bool, error) {
	for e := range s.ix.byFreeSpace.Ascend() {
		donor := e.Value
		if int64(donor.freeSpace(s.cfg.ValueCRCEnabled)) < padded {
			continue
		}

		newPtr := donor.DataPointer + int64(donor.DataCapacity) - padded
		donor.DataCapacity -= int32(padded)
		if err := s.rewriteEnvelopeSlot(donor); err != nil {
			return nil, false, err
		}
		s.ix.reseatFreeSpace(donor, s.cfg.ValueCRCEnabled)

		return &Envelope{DataPointer: newPtr, DataCapacity: int32(padded)}, true, nil
	}
	return nil, false, nil
}

// allocateAppend extends the file by padded bytes and hands the new
// space to the caller.
func (s *Store) allocateAppend(padded int64) (*Envelope, error) {
	fileLen, err := s.backend.Len()
	if err != nil {
		return nil, err
	}
	if err := s.backend.SetLen(fileLen + padded); err != nil {
		return nil, err
	}
	return &Envelope{DataPointer: fileLen, DataCapacity: int32(padded)}, nil
}
