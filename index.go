package kvstore

import (
	"encoding/binary"

	"github.com/Priyanshu23/kvstore/internal/omap"
)

// indices holds the three in-memory views over the live envelopes:
// by_key for existence/lookup by key, by_offset for predecessor and
// front-record lookups during allocation and reclaim, and by_free_space
// for first-fit-smallest scans during allocation. byPosition is an
// auxiliary structure (not named by the data model, but required to
// implement swap-delete without a disk round trip) mapping a slot index
// to the envelope currently occupying it.
type indices struct {
	byKey       map[string]*Envelope
	byOffset    *omap.Map[int64, *Envelope]
	byFreeSpace *omap.Map[string, *Envelope]
	byPosition  []*Envelope
}

func newIndices() *indices {
	return &indices{
		byKey:       make(map[string]*Envelope),
		byOffset:    omap.New[int64, *Envelope](),
		byFreeSpace: omap.New[string, *Envelope](),
	}
}

// freeSpaceKey packs (freeSpace, dataPointer) into a 12-byte big-endian
// string so that by_free_space's lexicographic string order matches
// ascending numeric order on the pair, with dataPointer breaking ties
// between envelopes of equal free space.
func freeSpaceKey(freeSpace int32, dataPointer int64) string {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(freeSpace))
	binary.BigEndian.PutUint64(buf[4:12], uint64(dataPointer))
	return string(buf)
}

// reseatFreeSpace must be called whenever env's DataPointer, DataCapacity
// or DataCount changes: it removes any stale by_free_space entry and, if
// the envelope still has free space, reinserts it under a fresh key.
func (ix *indices) reseatFreeSpace(env *Envelope, valueCRCEnabled bool) {
	if env.fsKey != "" {
		ix.byFreeSpace.Delete(env.fsKey)
		env.fsKey = ""
	}
	if fs := env.freeSpace(valueCRCEnabled); fs > 0 {
		k := freeSpaceKey(fs, env.DataPointer)
		ix.byFreeSpace.Put(k, env)
		env.fsKey = k
	}
}

// insert adds env under key across all indices. If key was already
// present (recovery tolerating an interrupted swap-delete's duplicate
// residue), the previous envelope is evicted from by_offset and
// by_free_space first; its slot in byPosition is left untouched, since
// it is still a physically valid, merely unreachable, record.
func (ix *indices) insert(key []byte, env *Envelope, valueCRCEnabled bool) {
	k := string(key)
	if old, existed := ix.byKey[k]; existed {
		ix.byOffset.Delete(old.DataPointer)
		if old.fsKey != "" {
			ix.byFreeSpace.Delete(old.fsKey)
		}
	}

	env.Key = append([]byte(nil), key...)
	ix.byKey[k] = env
	ix.byOffset.Put(env.DataPointer, env)
	ix.reseatFreeSpace(env, valueCRCEnabled)
	ix.byPosition = append(ix.byPosition, env)
}

// remove drops key from by_key, by_offset and by_free_space. byPosition
// is managed separately by swapRemove, which runs alongside the on-disk
// swap-delete.
func (ix *indices) remove(key []byte) {
	k := string(key)
	env, ok := ix.byKey[k]
	if !ok {
		return
	}
	delete(ix.byKey, k)
	ix.byOffset.Delete(env.DataPointer)
	if env.fsKey != "" {
		ix.byFreeSpace.Delete(env.fsKey)
	}
}

// relocate re-seats env in by_offset under its new DataPointer and
// refreshes its by_free_space entry. Used when a grown/shrunk value
// moves to a freshly allocated envelope.
func (ix *indices) relocate(env *Envelope, oldPointer int64, valueCRCEnabled bool) {
	ix.byOffset.Delete(oldPointer)
	ix.byOffset.Put(env.DataPointer, env)
	ix.reseatFreeSpace(env, valueCRCEnabled)
}

// swapRemove removes the slot at victimPos from byPosition, moving the
// last slot into its place the same way the on-disk swap-delete does.
// The caller must already have updated the moved envelope's
// IndexPosition before calling this.
func (ix *indices) swapRemove(victimPos int32) {
	last := int32(len(ix.byPosition)) - 1
	if victimPos != last {
		ix.byPosition[victimPos] = ix.byPosition[last]
	}
	ix.byPosition = ix.byPosition[:last]
}
