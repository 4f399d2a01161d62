package allocator

import (
	"path/filepath"
	"testing"
)

func TestHumanReadableFileSize(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{0, "0.00 bytes"},
		{1024, "1.00 kB"},
		{52_428_800, "50.00 MB"},
	}
	for _, c := range cases {
		got := HumanReadableFileSize(c.bytes)
		if got != c.want {
			t.Errorf("HumanReadableFileSize(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestRequiredFileSizeForRetentionHours(t *testing.T) {
	numBlocks, blockSize := RequiredFileSizeForRetentionHours(72, 65536)
	if blockSize != FiftyMBFile {
		t.Errorf("got blockSize %d, want %d", blockSize, FiftyMBFile)
	}
	if numBlocks != 326 {
		t.Errorf("got numBlocks %d, want 326", numBlocks)
	}

	totalBytes := numBlocks * uint64(blockSize)
	requiredBytes := uint64(65536) * 3600 * 72
	if totalBytes < requiredBytes {
		t.Errorf("allocated %d bytes is less than the required %d", totalBytes, requiredBytes)
	}
}

func TestAllocateRejectsTooFewBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revd-allocate-test-invalid.rvd")
	if err := Allocate(path, FiftyMBFile, 1); err == nil {
		t.Fatal("expected a validation error for numBlocks < 2")
	}
}
