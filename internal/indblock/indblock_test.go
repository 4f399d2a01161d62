package indblock

import "testing"

const testBlockSize = 4096

func newTestBlock(t *testing.T, nEntries uint32) *Block {
	t.Helper()
	buf := make([]byte, testBlockSize)
	b, err := Initialize(buf, testBlockSize, nEntries, 1000, "h264", "", "aac", "")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return b
}

func TestInitializeRejectsOversizedEntryTable(t *testing.T) {
	buf := make([]byte, 64)
	_, err := Initialize(buf, 64, 100, 0, "h264", "", "aac", "")
	if err == nil {
		t.Fatal("expected a capacity error when the entry table doesn't fit")
	}
}

func TestAppendAndEntryRoundTrip(t *testing.T) {
	b := newTestBlock(t, 8)
	entry, err := b.Append([]byte("gop-one"), 0, 1000, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.IsKey() {
		t.Error("entry should be marked as a key-frame GOP head")
	}
	if b.NValid() != 1 {
		t.Fatalf("got NValid() %d, want 1", b.NValid())
	}

	got := b.Entry(0)
	if got.Ts != 1000 || got.StreamID != 0 {
		t.Errorf("got entry %+v, want ts=1000 streamID=0", got)
	}
	if string(b.Payload(got)) != "gop-one" {
		t.Errorf("got payload %q, want %q", b.Payload(got), "gop-one")
	}
}

func TestFitsReflectsRemainingCapacity(t *testing.T) {
	b := newTestBlock(t, 1)
	if !b.Fits(10) {
		t.Fatal("fresh block with one free entry slot should fit a small payload")
	}
	if _, err := b.Append(make([]byte, 10), 0, 1000, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Fits(1) {
		t.Error("block with n_entries=1 already used should no longer fit anything")
	}
}

func TestAppendFailsWhenEntryTableFull(t *testing.T) {
	b := newTestBlock(t, 1)
	if _, err := b.Append([]byte("a"), 0, 1000, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := b.Append([]byte("b"), 0, 1001, false); err == nil {
		t.Fatal("expected a capacity error once n_entries is exhausted")
	}
}

func TestFindLowerBound(t *testing.T) {
	b := newTestBlock(t, 8)
	b.Append([]byte("a"), 0, 1000, true)
	b.Append([]byte("b"), 0, 1100, false)
	b.Append([]byte("c"), 0, 1300, false)

	if idx := b.FindLowerBound(1100); idx != 1 {
		t.Errorf("got %d, want 1", idx)
	}
	if idx := b.FindLowerBound(1150); idx != 2 {
		t.Errorf("got %d, want 2", idx)
	}
	if idx := b.FindLowerBound(2000); idx != b.End() {
		t.Errorf("got %d, want End() (%d)", idx, b.End())
	}
}

func TestOpenRecoversCodecMetadata(t *testing.T) {
	buf := make([]byte, testBlockSize)
	_, err := Initialize(buf, testBlockSize, 4, 5000, "h264", "profile=high", "aac", "48000")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	reopened := Open(buf)
	if reopened.BaseTime() != 5000 {
		t.Errorf("got BaseTime() %d, want 5000", reopened.BaseTime())
	}
	if reopened.VideoCodecName() != "h264" || reopened.VideoCodecParams() != "profile=high" {
		t.Errorf("video codec metadata mismatch: %q %q", reopened.VideoCodecName(), reopened.VideoCodecParams())
	}
	if reopened.AudioCodecName() != "aac" || reopened.AudioCodecParams() != "48000" {
		t.Errorf("audio codec metadata mismatch: %q %q", reopened.AudioCodecName(), reopened.AudioCodecParams())
	}
}

func TestValidateDetectsUnsortedEntries(t *testing.T) {
	b := newTestBlock(t, 8)
	b.Append([]byte("a"), 0, 1000, true)
	b.Append([]byte("b"), 0, 900, false) // out of order on purpose

	if err := b.Validate(); err == nil {
		t.Fatal("expected Validate to detect unsorted entries")
	}
}
