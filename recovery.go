package kvstore

import (
	"fmt"

	"go.uber.org/zap"
)

func newStore(b backend, h fileHeader, cfg Options, logger *zap.SugaredLogger) *Store {
	return &Store{
		state:   stateOpen,
		backend: b,
		header:  h,
		cfg:     cfg,
		ix:      newIndices(),
		log:     logger,
	}
}

// Create initializes a brand-new store file at opts.Path. The file must
// not already exist. opts.MaxKeyLength must be in [1,252]; if
// opts.InitialSize is larger than the header size, that much space is
// reserved for the index region up front.
func Create(opts Options) (*Store, error) {
	if opts.MaxKeyLength < 1 || opts.MaxKeyLength > 252 {
		return nil, fmt.Errorf("%w: max_key_length must be in [1,252], got %d", ErrCorruptHeader, opts.MaxKeyLength)
	}

	logger := opts.logger()

	b, err := openBackend(opts.Path, true)
	if err != nil {
		return nil, err
	}

	dataStart := int64(headerSize)
	if opts.InitialSize > dataStart {
		dataStart = opts.InitialSize
	}

	if err := b.SetLen(dataStart); err != nil {
		b.Close()
		return nil, err
	}

	h := fileHeader{MaxKeyLength: opts.MaxKeyLength, NumRecords: 0, DataStartPtr: dataStart}
	if err := b.WriteAt(encodeHeader(h), 0); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.Sync(); err != nil {
		b.Close()
		return nil, err
	}

	logger.Infow("created store",
		"path", opts.Path,
		"maxKeyLength", opts.MaxKeyLength,
		"dataStartPtr", dataStart,
	)

	return newStore(b, h, opts, logger), nil
}

// Open opens an existing store file, replaying its index region into
// memory and validating the on-disk layout before returning. If
// opts.MaxKeyLength is non-zero, it must match the file's header
// exactly.
func Open(opts Options) (*Store, error) {
	logger := opts.logger()

	b, err := openBackend(opts.Path, false)
	if err != nil {
		return nil, err
	}

	headerBuf := make([]byte, headerSize)
	if err := b.ReadAt(headerBuf, 0); err != nil {
		b.Close()
		return nil, err
	}
	h, err := decodeHeader(headerBuf)
	if err != nil {
		b.Close()
		return nil, err
	}

	if opts.MaxKeyLength != 0 && opts.MaxKeyLength != h.MaxKeyLength {
		b.Close()
		return nil, fmt.Errorf("%w: file has %d, caller expected %d", ErrMaxKeyLengthMismatch, h.MaxKeyLength, opts.MaxKeyLength)
	}
	opts.MaxKeyLength = h.MaxKeyLength

	s := newStore(b, h, opts, logger)

	if err := s.recover(); err != nil {
		b.Close()
		return nil, err
	}

	logger.Infow("opened store",
		"path", opts.Path,
		"records", h.NumRecords,
		"dataStartPtr", h.DataStartPtr,
	)
	return s, nil
}

// recover replays every index slot into the in-memory indices and then
// validates that the resulting data region is consistent.
func (s *Store) recover() error {
	ss := int64(slotSize(s.header.MaxKeyLength))

	duplicates := 0
	for i := int32(0); i < s.header.NumRecords; i++ {
		slotOffset := int64(headerSize) + int64(i)*ss
		slotBuf := make([]byte, ss)
		if err := s.backend.ReadAt(slotBuf, slotOffset); err != nil {
			return err
		}

		key, err := decodeKeySlot(slotBuf[:s.header.MaxKeyLength], s.header.MaxKeyLength)
		if err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrCorruptFile, i, err)
		}
		env, err := decodeEnvelope(slotBuf[s.header.MaxKeyLength:])
		if err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrCorruptFile, i, err)
		}
		env.IndexPosition = i

		if _, existed := s.ix.byKey[string(key)]; existed {
			duplicates++
		}
		s.ix.insert(key, &env, s.cfg.ValueCRCEnabled)
	}

	if duplicates > 0 {
		s.log.Warnw("recovery tolerated duplicate-key residue from an interrupted swap-delete",
			"count", duplicates)
	}

	return s.validateLayout()
}

// validateLayout checks that every live record lies within the file,
// starts at or after data_start_ptr, and does not overlap any other
// live record. It deliberately does not require the data region to
// tile data_start_ptr to the end of the file with zero gaps: an
// interrupted allocator or index-growth write can legitimately leave
// an untracked gap behind (data_start_ptr already lowered for a record
// whose slot was never committed, or a relocated record's envelope
// persisted before data_start_ptr caught up to it) without the file
// being corrupt — that gap is free space, which relocateFrontRecord
// folds back into the front gap the next time the index grows. Anything this check rejects means the file was
// corrupted by something other than a write this store's own
// write-ordering protocol accounts for.
func (s *Store) validateLayout() error {
	fileLen, err := s.backend.Len()
	if err != nil {
		return err
	}

	ss := int64(slotSize(s.header.MaxKeyLength))
	endIndex := int64(headerSize) + int64(s.header.NumRecords)*ss
	if s.header.DataStartPtr < endIndex {
		return fmt.Errorf("%w: data_start_ptr %d precedes end of index region %d", ErrCorruptFile, s.header.DataStartPtr, endIndex)
	}
	if s.header.DataStartPtr > fileLen {
		return fmt.Errorf("%w: data_start_ptr %d beyond file length %d", ErrCorruptFile, s.header.DataStartPtr, fileLen)
	}

	crcLen := int32(0)
	if s.cfg.ValueCRCEnabled {
		crcLen = 4
	}

	prevEnd := int64(-1)
	for e := range s.ix.byOffset.Ascend() {
		env := e.Value
		if env.DataPointer < s.header.DataStartPtr {
			return fmt.Errorf("%w: record at %d precedes data_start_ptr %d", ErrCorruptFile, env.DataPointer, s.header.DataStartPtr)
		}
		if prevEnd >= 0 && env.DataPointer < prevEnd {
			return fmt.Errorf("%w: record at %d overlaps preceding record ending at %d", ErrCorruptFile, env.DataPointer, prevEnd)
		}
		if env.DataPointer+int64(env.DataCapacity) > fileLen {
			return fmt.Errorf("%w: record at %d extends beyond file length %d", ErrCorruptFile, env.DataPointer, fileLen)
		}
		if int64(4+env.DataCount)+int64(crcLen) > int64(env.DataCapacity) {
			return fmt.Errorf("%w: record at %d has live count exceeding capacity", ErrCorruptFile, env.DataPointer)
		}
		prevEnd = env.DataPointer + int64(env.DataCapacity)
	}

	return nil
}
