// Package indblock implements the per-storage-block index of GOP
// descriptors ("ind block"): a fixed-count entry table plus codec
// metadata, with the rel-block payload packed in the remainder of the
// block (spec §3, §4.2, §6).
package indblock

import (
	"encoding/binary"
	"sort"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// EntrySize is the on-wire size of one ind-block entry:
// ts(8) + offset(4) + size(4) + stream_id(1) + flags(1).
const EntrySize = 18

// headerFixedSize is n_entries(4) + n_valid(4) + base_time(8), before
// the four length-prefixed codec strings.
const headerFixedSize = 16

// KeyFlag mirrors relblock.KeyFlag on an ind-block entry: set when the
// rel block this entry points at begins with a key frame.
const KeyFlag uint8 = 1

// Entry is one decoded ind-block index entry.
type Entry struct {
	Ts       int64
	Offset   uint32
	Size     uint32
	StreamID uint8
	Flags    uint8
}

// IsKey reports whether the rel block this entry points at is a GOP head.
func (e Entry) IsKey() bool { return e.Flags&KeyFlag != 0 }

// Block is a view over one ind-block-sized region of a mapped storage
// file. It does not own the underlying memory; callers mmap the
// region and hand it to Open or Initialize.
type Block struct {
	buf              []byte
	entryTableOffset int
	payloadStart     int
}

func putLenPrefixedString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

func readLenPrefixedString(buf []byte, off int) (string, int) {
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	return string(buf[off : off+n]), off + n
}

// Initialize writes the fixed header, zeroes the entry table, and sets
// n_valid = 0. buf must be at least blockSize bytes and is the full
// ind-block region (header + entry table + payload).
func Initialize(
	buf []byte,
	blockSize uint32,
	nEntries uint32,
	baseTime int64,
	videoCodecName, videoCodecParams, audioCodecName, audioCodecParams string,
) (*Block, error) {
	need := headerFixedSize + 8 + len(videoCodecName) + len(videoCodecParams) +
		len(audioCodecName) + len(audioCodecParams) + int(nEntries)*EntrySize
	if uint32(need) > blockSize {
		return nil, revderrors.NewCapacityError(
			nil, revderrors.ErrorCodeIndBlockFull, "ind block header and entry table exceed block size",
		).WithLimit(int64(blockSize)).WithRequested(int64(need))
	}

	binary.LittleEndian.PutUint32(buf[0:], nEntries)
	binary.LittleEndian.PutUint32(buf[4:], 0)
	binary.LittleEndian.PutUint64(buf[8:], uint64(baseTime))

	off := headerFixedSize
	off = putLenPrefixedString(buf, off, videoCodecName)
	off = putLenPrefixedString(buf, off, videoCodecParams)
	off = putLenPrefixedString(buf, off, audioCodecName)
	off = putLenPrefixedString(buf, off, audioCodecParams)

	entryTableOffset := off
	payloadStart := entryTableOffset + int(nEntries)*EntrySize

	for i := entryTableOffset; i < payloadStart; i++ {
		buf[i] = 0
	}

	return &Block{buf: buf, entryTableOffset: entryTableOffset, payloadStart: payloadStart}, nil
}

// Open parses the header of an already-initialized ind block.
func Open(buf []byte) *Block {
	off := headerFixedSize
	_, off = readLenPrefixedString(buf, off)
	_, off = readLenPrefixedString(buf, off)
	_, off = readLenPrefixedString(buf, off)
	_, off = readLenPrefixedString(buf, off)

	entryTableOffset := off
	payloadStart := entryTableOffset + int(binary.LittleEndian.Uint32(buf[0:]))*EntrySize
	return &Block{buf: buf, entryTableOffset: entryTableOffset, payloadStart: payloadStart}
}

func (b *Block) NEntries() uint32 { return binary.LittleEndian.Uint32(b.buf[0:]) }

func (b *Block) NValid() uint32 { return binary.LittleEndian.Uint32(b.buf[4:]) }

func (b *Block) setNValid(n uint32) { binary.LittleEndian.PutUint32(b.buf[4:], n) }

func (b *Block) BaseTime() int64 { return int64(binary.LittleEndian.Uint64(b.buf[8:])) }

func (b *Block) VideoCodecName() string {
	s, _ := readLenPrefixedString(b.buf, headerFixedSize)
	return s
}

func (b *Block) VideoCodecParams() string {
	_, off := readLenPrefixedString(b.buf, headerFixedSize)
	s, _ := readLenPrefixedString(b.buf, off)
	return s
}

func (b *Block) AudioCodecName() string {
	_, off := readLenPrefixedString(b.buf, headerFixedSize)
	_, off = readLenPrefixedString(b.buf, off)
	s, _ := readLenPrefixedString(b.buf, off)
	return s
}

func (b *Block) AudioCodecParams() string {
	_, off := readLenPrefixedString(b.buf, headerFixedSize)
	_, off = readLenPrefixedString(b.buf, off)
	_, off = readLenPrefixedString(b.buf, off)
	s, _ := readLenPrefixedString(b.buf, off)
	return s
}

// payloadCursor returns the first free payload byte offset, computed
// from the last valid entry's [offset, offset+size) region since the
// payload grows strictly upward in append order.
func (b *Block) payloadCursor() int {
	n := b.NValid()
	if n == 0 {
		return b.payloadStart
	}
	last := b.Entry(int(n - 1))
	return int(last.Offset) + int(last.Size)
}

// Fits reports whether byteCount more payload bytes can be appended
// without exceeding the block, and whether an entry slot remains.
func (b *Block) Fits(byteCount int) bool {
	if b.NValid() >= b.NEntries() {
		return false
	}
	remaining := len(b.buf) - b.payloadCursor()
	return remaining >= byteCount
}

// Append copies payload into the block's payload region and writes a
// new entry describing it. flags bit 0 is set when relFirstIsKey.
func (b *Block) Append(payload []byte, streamID uint8, ts int64, relFirstIsKey bool) (Entry, error) {
	if !b.Fits(len(payload)) {
		return Entry{}, revderrors.NewIndBlockFullError(int64(b.NEntries()))
	}

	offset := b.payloadCursor()
	copy(b.buf[offset:], payload)

	var flags uint8
	if relFirstIsKey {
		flags = KeyFlag
	}

	entry := Entry{Ts: ts, Offset: uint32(offset), Size: uint32(len(payload)), StreamID: streamID, Flags: flags}
	b.writeEntry(int(b.NValid()), entry)
	b.setNValid(b.NValid() + 1)
	return entry, nil
}

func (b *Block) entryOffset(i int) int { return b.entryTableOffset + i*EntrySize }

func (b *Block) writeEntry(i int, e Entry) {
	off := b.entryOffset(i)
	binary.LittleEndian.PutUint64(b.buf[off:], uint64(e.Ts))
	binary.LittleEndian.PutUint32(b.buf[off+8:], e.Offset)
	binary.LittleEndian.PutUint32(b.buf[off+12:], e.Size)
	b.buf[off+16] = e.StreamID
	b.buf[off+17] = e.Flags
}

// Entry returns the i'th valid entry, in append (and sorted-by-ts) order.
func (b *Block) Entry(i int) Entry {
	off := b.entryOffset(i)
	return Entry{
		Ts:       int64(binary.LittleEndian.Uint64(b.buf[off:])),
		Offset:   binary.LittleEndian.Uint32(b.buf[off+8:]),
		Size:     binary.LittleEndian.Uint32(b.buf[off+12:]),
		StreamID: b.buf[off+16],
		Flags:    b.buf[off+17],
	}
}

// Payload returns the rel-block bytes for the given entry.
func (b *Block) Payload(e Entry) []byte {
	return b.buf[e.Offset : e.Offset+e.Size]
}

// Begin returns the index of the first valid entry, or End() if empty.
func (b *Block) Begin() int { return 0 }

// End returns one past the last valid entry index.
func (b *Block) End() int { return int(b.NValid()) }

// FindLowerBound returns the index of the first entry with ts >= target,
// or End() if none. Entries are sorted ascending by ts at insert time,
// so a binary search applies; ties resolve to the lowest index.
func (b *Block) FindLowerBound(ts int64) int {
	n := b.End()
	return sort.Search(n, func(i int) bool { return b.Entry(i).Ts >= ts })
}

// Validate performs the read-side self-test of ind-block invariants:
// n_valid <= n_entries, entries sorted non-decreasing by ts, and
// non-overlapping regions strictly inside the block.
func (b *Block) Validate() error {
	if b.NValid() > b.NEntries() {
		return revderrors.NewCorruptionError(
			nil, revderrors.ErrorCodeIndBlockCorrupted, "n_valid exceeds n_entries",
		).WithStructure("ind_block")
	}

	var prevTs int64
	var prevEnd uint32
	for i := 0; i < b.End(); i++ {
		e := b.Entry(i)
		if i > 0 && e.Ts < prevTs {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeIndBlockCorrupted, "ind block entries not sorted by ts",
			).WithStructure("ind_block")
		}
		if int(e.Offset) < b.payloadStart || int(e.Offset+e.Size) > len(b.buf) {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeIndBlockCorrupted, "ind block entry region lies outside the block",
			).WithStructure("ind_block")
		}
		if i > 0 && e.Offset < prevEnd {
			return revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeIndBlockCorrupted, "ind block entry regions overlap",
			).WithStructure("ind_block")
		}
		prevTs = e.Ts
		prevEnd = e.Offset + e.Size
	}
	return nil
}

// HeaderSize returns the total header size (fixed fields, codec
// strings, and entry table) for a block initialized with the given
// parameters — the offset at which the payload region begins.
func HeaderSize(nEntries uint32, videoCodecName, videoCodecParams, audioCodecName, audioCodecParams string) int {
	return headerFixedSize + 8 +
		len(videoCodecName) + len(videoCodecParams) + len(audioCodecName) + len(audioCodecParams) +
		int(nEntries)*EntrySize
}
