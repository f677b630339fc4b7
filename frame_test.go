package kvstore

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKeySlotRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{"single byte", []byte("a")},
		{"binary", []byte{0, 1, 2, 3, 255}},
		{"near max", bytes.Repeat([]byte("k"), 59)},
	}

	const maxKeyLength = 64

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := encodeKeySlot(tt.key, maxKeyLength)
			if len(slot) != maxKeyLength {
				t.Fatalf("expected slot length %d, got %d", maxKeyLength, len(slot))
			}

			got, err := decodeKeySlot(slot, maxKeyLength)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if !bytes.Equal(got, tt.key) {
				t.Fatalf("round trip mismatch: got %v want %v", got, tt.key)
			}
		})
	}
}

func TestDecodeKeySlotDetectsCorruption(t *testing.T) {
	const maxKeyLength = 64
	slot := encodeKeySlot([]byte("hello"), maxKeyLength)
	slot[3] ^= 0xFF // flip the bits of one key byte

	if _, err := decodeKeySlot(slot, maxKeyLength); err == nil {
		t.Fatal("expected corruption error, got nil")
	}
}

func TestDecodeKeySlotRejectsZeroLength(t *testing.T) {
	const maxKeyLength = 64
	slot := make([]byte, maxKeyLength) // length byte 0

	if _, err := decodeKeySlot(slot, maxKeyLength); err == nil {
		t.Fatal("expected error for zero-length key, got nil")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{DataPointer: 12345, DataCapacity: 256, DataCount: 100}

	buf := encodeEnvelope(env)
	if len(buf) != envelopeSize {
		t.Fatalf("expected %d bytes, got %d", envelopeSize, len(buf))
	}

	got, err := decodeEnvelope(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	want := Envelope{DataPointer: env.DataPointer, DataCapacity: env.DataCapacity, DataCount: env.DataCount, HeaderCRC32: got.HeaderCRC32}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Envelope{})); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEnvelopeDetectsCorruption(t *testing.T) {
	buf := encodeEnvelope(Envelope{DataPointer: 1, DataCapacity: 2, DataCount: 3})
	buf[0] ^= 0xFF

	if _, err := decodeEnvelope(buf); err == nil {
		t.Fatal("expected envelope crc mismatch, got nil")
	}
}

func TestValueFrameRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox")
	capacity := int32(64)

	for _, crcEnabled := range []bool{false, true} {
		frame := encodeValueFrame(payload, capacity, crcEnabled)
		if int32(len(frame)) != capacity {
			t.Fatalf("expected frame length %d, got %d", capacity, len(frame))
		}
		if n := binary.BigEndian.Uint32(frame[0:4]); n != uint32(len(payload)) {
			t.Fatalf("crc=%v: length prefix %d, want %d", crcEnabled, n, len(payload))
		}
		if got := frame[4 : 4+len(payload)]; !bytes.Equal(got, payload) {
			t.Fatalf("crc=%v: payload %q, want %q", crcEnabled, got, payload)
		}
		if crcEnabled {
			if got := binary.BigEndian.Uint32(frame[4+len(payload):]); got != crc32.ChecksumIEEE(payload) {
				t.Fatalf("payload crc %08x, want %08x", got, crc32.ChecksumIEEE(payload))
			}
		}
	}
}

func TestPayloadBytes(t *testing.T) {
	if got := payloadBytes(10, false); got != 14 {
		t.Fatalf("expected 14, got %d", got)
	}
	if got := payloadBytes(10, true); got != 18 {
		t.Fatalf("expected 18, got %d", got)
	}
}
