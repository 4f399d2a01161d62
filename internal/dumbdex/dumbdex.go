// Package dumbdex implements the block allocator / circular block
// index living in block 0 of a storage file: a sorted index mapping
// first-GOP timestamps to block numbers, plus a free-list stack for
// wrap-around reuse (spec §3, §4.3, §6).
package dumbdex

import (
	"encoding/binary"
	"sort"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// IndexEntrySize and FreeEntrySize are both 10 bytes per spec §4.3's
// size_bookkeeping, even though a free-list slot only needs to carry a
// uint16 block number: reserving equal-width slots lets both arrays
// share one capacity bound (every block number lives in exactly one
// of the two arrays at any time).
const (
	IndexEntrySize = 10
	FreeEntrySize  = 10
)

// MaxIndexesWithin returns the maximum number of block numbers a
// dumbdex region of regionBytes can track, per spec's
// max_indexes_within(region) = (region - 8) / 20.
func MaxIndexesWithin(regionBytes uint32) uint32 {
	if regionBytes < 8 {
		return 0
	}
	return (regionBytes - 8) / (IndexEntrySize + FreeEntrySize)
}

// Dumbdex is a view over the dumbdex region of a mapped block 0. It
// does not own the underlying memory.
type Dumbdex struct {
	buf        []byte
	maxIndexes uint32
}

// Allocate initializes a fresh dumbdex in buf: an empty index array
// and a free list holding every block number 1..=maxIndexes, pushed in
// reverse order so the first Insert returns block 1.
func Allocate(buf []byte, maxIndexes uint32) *Dumbdex {
	for i := range buf {
		buf[i] = 0
	}

	d := &Dumbdex{buf: buf, maxIndexes: maxIndexes}
	d.setIndexLen(0)
	d.setFreeLen(maxIndexes)
	for i := uint32(0); i < maxIndexes; i++ {
		d.writeFreeSlot(i, uint16(maxIndexes-i))
	}
	return d
}

// Open wraps an already-initialized dumbdex region.
func Open(buf []byte, maxIndexes uint32) *Dumbdex {
	return &Dumbdex{buf: buf, maxIndexes: maxIndexes}
}

func (d *Dumbdex) indexLenOffset() int { return 0 }

func (d *Dumbdex) indexLen() uint32 {
	return binary.LittleEndian.Uint32(d.buf[d.indexLenOffset():])
}

func (d *Dumbdex) setIndexLen(n uint32) {
	binary.LittleEndian.PutUint32(d.buf[d.indexLenOffset():], n)
}

func (d *Dumbdex) indexEntryOffset(i uint32) int { return 4 + int(i)*IndexEntrySize }

func (d *Dumbdex) readIndexEntry(i uint32) (ts int64, blockNo uint16) {
	off := d.indexEntryOffset(i)
	return int64(binary.LittleEndian.Uint64(d.buf[off:])), binary.LittleEndian.Uint16(d.buf[off+8:])
}

func (d *Dumbdex) writeIndexEntry(i uint32, ts int64, blockNo uint16) {
	off := d.indexEntryOffset(i)
	binary.LittleEndian.PutUint64(d.buf[off:], uint64(ts))
	binary.LittleEndian.PutUint16(d.buf[off+8:], blockNo)
}

func (d *Dumbdex) freeLenOffset() int { return 4 + int(d.maxIndexes)*IndexEntrySize }

func (d *Dumbdex) freeLen() uint32 {
	return binary.LittleEndian.Uint32(d.buf[d.freeLenOffset():])
}

func (d *Dumbdex) setFreeLen(n uint32) {
	binary.LittleEndian.PutUint32(d.buf[d.freeLenOffset():], n)
}

func (d *Dumbdex) freeSlotOffset(i uint32) int { return d.freeLenOffset() + 4 + int(i)*FreeEntrySize }

func (d *Dumbdex) readFreeSlot(i uint32) uint16 {
	return binary.LittleEndian.Uint16(d.buf[d.freeSlotOffset(i):])
}

func (d *Dumbdex) writeFreeSlot(i uint32, blockNo uint16) {
	off := d.freeSlotOffset(i)
	binary.LittleEndian.PutUint16(d.buf[off:], blockNo)
	for j := 2; j < FreeEntrySize; j++ {
		d.buf[off+j] = 0
	}
}

// removeIndexAt deletes the entry at i, shifting later entries down.
func (d *Dumbdex) removeIndexAt(i uint32) {
	n := d.indexLen()
	for j := i; j+1 < n; j++ {
		ts, bn := d.readIndexEntry(j + 1)
		d.writeIndexEntry(j, ts, bn)
	}
	d.setIndexLen(n - 1)
}

// insertIndexAt inserts (ts, blockNo) at position i, shifting later
// entries up, and grows indexLen by one.
func (d *Dumbdex) insertIndexAt(i uint32, ts int64, blockNo uint16) {
	n := d.indexLen()
	for j := n; j > i; j-- {
		pts, pbn := d.readIndexEntry(j - 1)
		d.writeIndexEntry(j, pts, pbn)
	}
	d.writeIndexEntry(i, ts, blockNo)
	d.setIndexLen(n + 1)
}

func (d *Dumbdex) search(ts int64) uint32 {
	n := int(d.indexLen())
	return uint32(sort.Search(n, func(i int) bool {
		entryTs, _ := d.readIndexEntry(uint32(i))
		return entryTs >= ts
	}))
}

// Insert maps first_ts to a block number, per spec §4.3:
//  1. exact-timestamp retries are idempotent;
//  2. otherwise pop the free list if non-empty;
//  3. otherwise evict the smallest first_ts entry and reuse its block.
func (d *Dumbdex) Insert(firstTs int64) (uint16, error) {
	idx := d.search(firstTs)
	if idx < d.indexLen() {
		ts, bn := d.readIndexEntry(idx)
		if ts == firstTs {
			return bn, nil
		}
	}

	var blockNo uint16
	if fl := d.freeLen(); fl > 0 {
		blockNo = d.readFreeSlot(fl - 1)
		d.setFreeLen(fl - 1)
	} else {
		if d.indexLen() == 0 {
			return 0, revderrors.NewDumbdexInternalError("Insert", int(d.indexLen()))
		}
		_, evicted := d.readIndexEntry(0)
		blockNo = evicted
		d.removeIndexAt(0)
		idx = d.search(firstTs)
	}

	d.insertIndexAt(idx, firstTs, blockNo)
	return blockNo, nil
}

// Remove deletes the entry matching first_ts, if any, and returns its
// block number to the free list. No-op if absent.
func (d *Dumbdex) Remove(firstTs int64) {
	idx := d.search(firstTs)
	if idx >= d.indexLen() {
		return
	}
	ts, blockNo := d.readIndexEntry(idx)
	if ts != firstTs {
		return
	}

	d.removeIndexAt(idx)
	d.writeFreeSlot(d.freeLen(), blockNo)
	d.setFreeLen(d.freeLen() + 1)
}

// FindLowerBound returns the index of the first entry with
// first_ts >= ts, or End() if none.
func (d *Dumbdex) FindLowerBound(ts int64) uint32 { return d.search(ts) }

// Begin returns the index of the first entry.
func (d *Dumbdex) Begin() uint32 { return 0 }

// End returns one past the last valid index entry.
func (d *Dumbdex) End() uint32 { return d.indexLen() }

// EntryAt returns the (first_ts, block_no) pair at index i.
func (d *Dumbdex) EntryAt(i uint32) (int64, uint16) { return d.readIndexEntry(i) }

// Len returns the number of entries currently indexed.
func (d *Dumbdex) Len() uint32 { return d.indexLen() }

// Validate performs the read-side self-test: the index is strictly
// ascending by first_ts, and every block number 1..=maxIndexes appears
// in exactly one of {index, free list}.
func (d *Dumbdex) Validate() error {
	n := d.indexLen()
	var prevTs int64
	seen := make(map[uint16]bool, d.maxIndexes)
	for i := uint32(0); i < n; i++ {
		ts, bn := d.readIndexEntry(i)
		if i > 0 && ts <= prevTs {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeDumbdexCorrupted, "dumbdex index is not strictly ascending",
			).WithStructure("dumbdex")
		}
		if seen[bn] {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeDumbdexCorrupted, "dumbdex block number appears twice",
			).WithStructure("dumbdex")
		}
		seen[bn] = true
		prevTs = ts
	}

	fl := d.freeLen()
	for i := uint32(0); i < fl; i++ {
		bn := d.readFreeSlot(i)
		if seen[bn] {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeDumbdexCorrupted, "dumbdex block number in both index and free list",
			).WithStructure("dumbdex")
		}
		seen[bn] = true
	}

	if uint32(len(seen)) != d.maxIndexes {
		return revderrors.NewCorruptionError(
			nil, revderrors.ErrorCodeDumbdexCorrupted, "dumbdex does not account for every block number",
		).WithStructure("dumbdex")
	}
	for bn := uint32(1); bn <= d.maxIndexes; bn++ {
		if !seen[uint16(bn)] {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeDumbdexCorrupted, "dumbdex does not account for every block number",
			).WithStructure("dumbdex")
		}
	}
	return nil
}
