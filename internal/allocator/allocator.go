// Package allocator implements one-shot storage file creation and the
// pure file-size helpers used to size a new recording file for a
// target retention window (spec §4.7).
package allocator

import (
	"encoding/binary"
	"fmt"
	"os"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
	"github.com/iamNilotpal/revd/internal/dumbdex"
	"github.com/iamNilotpal/revd/internal/storage/block"
)

// humanUnits is the binary-prefix ladder HumanReadableFileSize walks,
// grounded on the original r_storage_file.cpp unit array.
var humanUnits = []string{"bytes", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// HumanReadableFileSize formats n bytes using the standard
// binary-prefix ladder, two decimal places (spec §4.7, §8 scenario 6).
func HumanReadableFileSize(n uint64) string {
	size := float64(n)
	idx := 0
	for size >= 1024 && idx < len(humanUnits)-1 {
		size /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", size, humanUnits[idx])
}

// FiftyMBFile is the mandatory block-size floor: 50 MiB, required on
// platforms that need 65536-aligned mmap sizes (spec §4.7, §5).
const FiftyMBFile uint32 = 52_428_800

// FudgeFactor is the safety margin added to the block count computed
// by RequiredFileSizeForRetentionHours.
const FudgeFactor = 2

// RequiredFileSizeForRetentionHours returns the (numBlocks, blockSize)
// pair needed to retain byteRate bytes/sec of recording for the given
// number of hours, per spec §4.7 and §8 scenario 5:
// blocks = (byteRate*3600*hours)/FiftyMBFile + FudgeFactor.
func RequiredFileSizeForRetentionHours(hours int64, byteRate uint64) (numBlocks uint64, blockSize uint32) {
	totalBytes := byteRate * 3600 * uint64(hours)
	blocks := totalBytes/uint64(FiftyMBFile) + FudgeFactor
	return blocks, FiftyMBFile
}

// Allocate creates a new storage file at fileName: pre-sizes it to
// numBlocks*blockSize bytes, zeroes and writes the header (the usable
// ind-block count N = numBlocks-1, and blockSize), then initializes
// the dumbdex into the remainder of block 0, sized for N usable
// blocks (spec §4.7). The sibling ledger is created separately by the
// caller via ledger.Open, which creates the segments schema on first use.
func Allocate(fileName string, blockSize uint32, numBlocks uint32) error {
	if numBlocks < 2 {
		return revderrors.NewValidationError(nil, revderrors.ErrorCodeInvalidInput, "numBlocks must be at least 2").
			WithField("numBlocks").WithProvided(numBlocks)
	}

	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return revderrors.ClassifyFileOpenError(err, fileName, fileName)
	}
	defer f.Close()

	totalSize := int64(numBlocks) * int64(blockSize)
	if err := f.Truncate(totalSize); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to pre-size storage file").
			WithPath(fileName).WithDetail("size", totalSize)
	}

	header := make([]byte, block.HeaderSize)
	usableBlocks := numBlocks - 1
	binary.LittleEndian.PutUint32(header[0:], usableBlocks)
	binary.LittleEndian.PutUint32(header[4:], blockSize)
	if _, err := f.WriteAt(header, 0); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to write storage file header").
			WithPath(fileName)
	}

	dumbdexRegion := make([]byte, blockSize-uint32(block.HeaderSize))
	dumbdex.Allocate(dumbdexRegion, usableBlocks)
	if _, err := f.WriteAt(dumbdexRegion, int64(block.HeaderSize)); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to write dumbdex region").
			WithPath(fileName)
	}

	if err := f.Sync(); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to sync newly allocated storage file").
			WithPath(fileName)
	}
	return nil
}
