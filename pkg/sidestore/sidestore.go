// Package sidestore documents the boundary contract for the
// motion/metadata ring buffer a recording process keeps alongside a
// revd instance. It is an external-collaborator contract, not an
// implementation: no ring file format is reproduced here (spec §1,
// §6 Non-goals).
package sidestore

import "time"

// RingBuffer is the shape a motion/metadata side-store is expected to
// implement. revd itself never constructs one; a process embedding
// revd wires its own implementation in to record alongside video.
type RingBuffer interface {
	// Write appends one metadata record at the given timestamp.
	Write(ts int64, data []byte) error

	// Read returns every record in [startTs, endTs).
	Read(startTs, endTs int64) ([][]byte, error)

	// Duration reports how far back the ring currently retains data.
	Duration() time.Duration

	// Clear discards every retained record.
	Clear() error

	// Close releases the ring's resources.
	Close() error
}
