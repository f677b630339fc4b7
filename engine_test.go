package kvstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func mustCreate(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "store.kv")
	}
	s, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertReadRoundTrip(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Insert([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert([]byte("beta"), []byte("two")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Read([]byte("alpha"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("one")) {
		t.Fatalf("got %q want %q", got, "one")
	}

	if n, err := s.Size(); err != nil || n != 2 {
		t.Fatalf("Size: %d, %v", n, err)
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert([]byte("k"), []byte("v2")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// A rejected duplicate insert must not flip the store into a broken
	// state or mutate the existing value.
	v, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatalf("Read after rejected duplicate: %v", err)
	}
	if !bytes.Equal(v, []byte("v")) {
		t.Fatalf("value changed by rejected duplicate insert: %q", v)
	}
}

func TestReadNotFound(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if _, err := s.Read([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertKeyTooLong(t *testing.T) {
	opts := DefaultOptions("")
	opts.MaxKeyLength = 10 // key max length 5
	s := mustCreate(t, opts)

	if err := s.Insert([]byte("way too long"), []byte("v")); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
	if err := s.Insert(nil, []byte("v")); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong for empty key, got %v", err)
	}
}

func TestDeleteThenNotFound(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSwapDeleteNonLastSlot(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		if err := s.Insert([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	// Delete a non-last slot; swap-delete must move the last slot into
	// its place without disturbing any other key's readability.
	if err := s.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, k := range []string{"a", "c", "d"} {
		v, err := s.Read([]byte(k))
		if err != nil {
			t.Fatalf("Read(%s) after swap-delete: %v", k, err)
		}
		if !bytes.Equal(v, []byte("v-"+k)) {
			t.Fatalf("Read(%s): got %q", k, v)
		}
	}
	if n, err := s.Size(); err != nil || n != 3 {
		t.Fatalf("Size: %d, %v", n, err)
	}
}

func TestUpdateSameSize(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Insert([]byte("k"), []byte("aaaa")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Update([]byte("k"), []byte("bbbb")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(v, []byte("bbbb")) {
		t.Fatalf("got %q want %q", v, "bbbb")
	}
}

func TestUpdateGrowRelocates(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Insert([]byte("k"), []byte("short")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A second record placed after k keeps k off the end of the file, so
	// the grow below relocates instead of resizing the tail record.
	if err := s.Insert([]byte("after"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	big := bytes.Repeat([]byte("x"), 4096)
	if err := s.Update([]byte("k"), big); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(v, big) {
		t.Fatalf("grown value mismatch: got %d bytes want %d", len(v), len(big))
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Update([]byte("missing"), []byte("v")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFreeSpaceReuse(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	big := bytes.Repeat([]byte("x"), 1000)
	if err := s.Insert([]byte("big"), big); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert([]byte("anchor"), []byte("keep the file from truncating away the freed span")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete([]byte("big")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	fileLenBefore, err := s.backend.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	if err := s.Insert([]byte("small"), []byte("fits in the freed span")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	fileLenAfter, err := s.backend.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if fileLenAfter > fileLenBefore {
		t.Fatalf("expected small insert to reuse freed space without growing the file: before=%d after=%d", fileLenBefore, fileLenAfter)
	}

	v, err := s.Read([]byte("small"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(v) != "fits in the freed span" {
		t.Fatalf("got %q", v)
	}
}

func TestExistsAndKeys(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	for _, k := range []string{"x", "y", "z"} {
		if err := s.Insert([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	ok, err := s.Exists([]byte("y"))
	if err != nil || !ok {
		t.Fatalf("Exists(y): %v, %v", ok, err)
	}
	ok, err = s.Exists([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("Exists(missing): %v, %v", ok, err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
}

func TestCloseIsIdempotentAndBlocksFurtherOps(t *testing.T) {
	s := mustCreate(t, DefaultOptions(""))

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Insert([]byte("k"), []byte("v")); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState after Close, got %v", err)
	}
}

func TestIndexGrowthRelocatesFrontRecords(t *testing.T) {
	opts := DefaultOptions("")
	opts.MaxKeyLength = 16 // small slots force index growth after only a few inserts

	s := mustCreate(t, opts)

	var keys []string
	for i := 0; i < 64; i++ {
		k := []byte{byte('a' + i%26), byte('0' + i/26)}
		keys = append(keys, string(k))
		if err := s.Insert(k, []byte{byte(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for i, k := range keys {
		v, err := s.Read([]byte(k))
		if err != nil {
			t.Fatalf("Read(%s) after index growth: %v", k, err)
		}
		if len(v) != 1 || v[0] != byte(i) {
			t.Fatalf("Read(%s): got %v want [%d]", k, v, i)
		}
	}
}
