// Package relblock implements the append-only framed byte container that
// holds the frames of one GOP (or one audio buffer group). A rel block
// is not a standalone file region of its own; it is the payload an ind
// block entry points at (spec §3, §4.1).
package relblock

import (
	"encoding/binary"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// RecordHeaderSize is the fixed overhead of one frame record:
// ts(8) + flags(1) + size(4).
const RecordHeaderSize = 13

// KeyFlag is bit 0 of a record's flags byte; all other bits are reserved zero.
const KeyFlag uint8 = 1

// Record is one decoded frame record from a rel block buffer.
type Record struct {
	Timestamp int64
	Flags     uint8
	Data      []byte
}

// IsKey reports whether this record is a key frame.
func (r Record) IsKey() bool { return r.Flags&KeyFlag != 0 }

// Append writes one frame record into dst starting at cursor and
// returns the cursor advanced by RecordHeaderSize+len(data). The
// caller must size dst to hold the write; Append performs no bounds
// check, matching spec §4.1.
func Append(dst []byte, cursor int, data []byte, ts int64, flags uint8) int {
	binary.LittleEndian.PutUint64(dst[cursor:], uint64(ts))
	dst[cursor+8] = flags
	binary.LittleEndian.PutUint32(dst[cursor+9:], uint32(len(data)))
	copy(dst[cursor+RecordHeaderSize:], data)
	return cursor + RecordHeaderSize + len(data)
}

// Size returns the on-wire size of a record carrying size bytes of payload.
func Size(size int) int { return RecordHeaderSize + size }

// Iterate decodes every record in buffer[:length] in stored order. It
// stops at the first malformed record (one whose declared size would
// run past length) and returns a CorruptionError alongside whatever
// records were successfully decoded, per spec §4.1's "fatal decode
// error" failure semantics.
func Iterate(buffer []byte, length int) ([]Record, error) {
	var records []Record
	cursor := 0
	for cursor < length {
		if cursor+RecordHeaderSize > length {
			return records, revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeRelBlockCorrupted, "rel block record header runs past buffer end",
			).WithStructure("rel_block")
		}

		ts := int64(binary.LittleEndian.Uint64(buffer[cursor:]))
		flags := buffer[cursor+8]
		size := binary.LittleEndian.Uint32(buffer[cursor+9:])

		dataStart := cursor + RecordHeaderSize
		dataEnd := dataStart + int(size)
		if dataEnd > length {
			return records, revderrors.NewCorruptionError(
				nil, revderrors.ErrorCodeRelBlockCorrupted, "rel block record payload runs past buffer end",
			).WithStructure("rel_block")
		}

		records = append(records, Record{Timestamp: ts, Flags: flags, Data: buffer[dataStart:dataEnd]})
		cursor = dataEnd
	}
	return records, nil
}

// Builder accumulates frame records into one contiguous rel-block
// buffer in RAM, in the shape a GOP buffer entry keeps them (spec §3).
// It is used by the writer before the GOP is flushed to an ind block.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 4096)}
}

// Append adds one frame record to the builder's buffer.
func (b *Builder) Append(data []byte, ts int64, flags uint8) {
	cursor := len(b.buf)
	b.buf = append(b.buf, make([]byte, Size(len(data)))...)
	Append(b.buf, cursor, data, ts, flags)
}

// Len returns the current accumulated byte size.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the accumulated rel-block wire bytes.
func (b *Builder) Bytes() []byte { return b.buf }
