// Package block manages the low-level resources shared by the storage
// writer and reader: the OS file handle, the per-file advisory lock,
// and the memory-mapped regions of block 0 and individual ind blocks
// (spec §5).
package block

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// HeaderSize is the fixed byte size of the storage file header:
// num_blocks:uint32 LE, block_size:uint32 LE (spec §3, §6).
const HeaderSize = 8

// File wraps one open `.rvd` storage file: its OS handle, its
// advisory lock, and the header fields read at open time. Block 0 is
// mapped for the lifetime of the handle; ind blocks are mapped and
// unmapped around individual operations.
type File struct {
	Path string

	osFile *os.File
	lock   *flock.Flock

	// NumBlocks is N, the number of usable ind blocks (blocks 1..N);
	// the file holds N+1 blocks in total including block 0.
	NumBlocks uint32
	BlockSize uint32

	block0 mmap.MMap
}

// Open opens an existing storage file, reads its header, and takes
// the per-file advisory lock (exclusive when writable, shared for
// read-only access), then maps block 0 for the handle's lifetime.
func Open(path string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	osFile, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, revderrors.ClassifyFileOpenError(err, path, path)
	}

	lock := flock.New(path + ".lock")
	locked, err := lockFile(lock, writable)
	if err != nil || !locked {
		osFile.Close()
		return nil, revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to acquire storage file lock").
			WithPath(path)
	}

	f := &File{Path: path, osFile: osFile, lock: lock}
	if err := f.readHeader(); err != nil {
		f.Close()
		return nil, err
	}

	prot := mmap.RDONLY
	if writable {
		prot = mmap.RDWR
	}
	block0, err := mmap.MapRegion(osFile, int(f.BlockSize), prot, 0, 0)
	if err != nil {
		f.Close()
		return nil, revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to map block 0").
			WithPath(path)
	}
	f.block0 = block0

	return f, nil
}

func lockFile(lock *flock.Flock, exclusive bool) (bool, error) {
	if exclusive {
		return lock.TryLock()
	}
	return lock.TryRLock()
}

func (f *File) readHeader() error {
	hdr := f.block0Header()
	if hdr == nil {
		buf := make([]byte, HeaderSize)
		if _, err := f.osFile.ReadAt(buf, 0); err != nil {
			return revderrors.NewCorruptionError(
				err, revderrors.ErrorCodeInvalidFile, "failed to read storage file header",
			)
		}
		f.NumBlocks = binary.LittleEndian.Uint32(buf[0:])
		f.BlockSize = binary.LittleEndian.Uint32(buf[4:])
		return nil
	}
	f.NumBlocks = binary.LittleEndian.Uint32(hdr[0:])
	f.BlockSize = binary.LittleEndian.Uint32(hdr[4:])
	return nil
}

func (f *File) block0Header() []byte {
	if f.block0 == nil {
		return nil
	}
	return f.block0[:HeaderSize]
}

// Block0Dumbdex returns the dumbdex region of block 0: everything
// after the fixed header, bytes [HeaderSize, BlockSize).
func (f *File) Block0Dumbdex() []byte {
	return f.block0[HeaderSize:f.BlockSize]
}

// MapIndBlock maps the region for ind block blockNo (1-indexed: block
// 1 begins at file offset BlockSize). Callers must Unmap the returned
// region when done with it.
func (f *File) MapIndBlock(blockNo uint16, writable bool) (mmap.MMap, error) {
	prot := mmap.RDONLY
	if writable {
		prot = mmap.RDWR
	}
	offset := int64(blockNo) * int64(f.BlockSize)
	region, err := mmap.MapRegion(f.osFile, int(f.BlockSize), prot, 0, offset)
	if err != nil {
		return nil, revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to map ind block").
			WithPath(f.Path).
			WithOffset(int(offset))
	}
	return region, nil
}

// UnmapIndBlock flushes and releases an ind-block region obtained from MapIndBlock.
func UnmapIndBlock(region mmap.MMap) error {
	if region == nil {
		return nil
	}
	return region.Unmap()
}

// Sync flushes block 0's mapping to disk.
func (f *File) Sync() error {
	if f.block0 == nil {
		return nil
	}
	return f.block0.Flush()
}

// Close unmaps block 0, releases the advisory lock, and closes the OS handle.
func (f *File) Close() error {
	var firstErr error
	if f.block0 != nil {
		if err := f.block0.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.block0 = nil
	}
	if f.lock != nil {
		if err := f.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.osFile != nil {
		if err := f.osFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
