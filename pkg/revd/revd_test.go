package revd

import (
	"context"
	"testing"
	"time"

	"github.com/iamNilotpal/revd/pkg/logger"
	"github.com/iamNilotpal/revd/pkg/options"
)

// openForTest opens an Instance with a Nop logger so test runs stay
// quiet, exercising the same open() path Open uses in production.
func openForTest(ctx context.Context, name, dataDir string) (*Instance, error) {
	return open(ctx, name, logger.Nop(), testOptions(dataDir)...)
}

func testOptions(dataDir string) []options.OptionFunc {
	return []options.OptionFunc{
		options.WithDataDir(dataDir),
		options.WithBlockSize(2 * 1024 * 1024),
		options.WithNumBlocks(4),
		options.WithGopBufferWindow(50 * time.Millisecond),
		options.WithIndEntriesPerBlock(8),
	}
}

func frame(ts int64, key bool, kind MediaKind, n int) Frame {
	return Frame{Data: make([]byte, n), Timestamp: ts, Key: key, MediaKind: kind}
}

// TestOpenWriteQueryClose exercises the write -> finalize -> query ->
// close lifecycle end to end against a temp directory.
func TestOpenWriteQueryClose(t *testing.T) {
	ctx := context.Background()
	inst, err := openForTest(ctx, "cam1", t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := inst.CreateWriteContext(NewWriteContext("h264", "", "aac", "")); err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	base := int64(1_000_000)
	frames := []Frame{
		frame(base, true, MediaVideo, 64),
		frame(base+33, false, MediaVideo, 16),
		frame(base+66, false, MediaVideo, 16),
		frame(base+100, true, MediaVideo, 64),
		frame(base+133, false, MediaVideo, 16),
	}
	for _, f := range frames {
		if err := inst.WriteFrame(ctx, f); err != nil {
			t.Fatalf("WriteFrame(ts=%d): %v", f.Timestamp, err)
		}
	}

	if err := inst.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := inst.Query(ctx, base, base+1000, MediaVideo)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("Query returned %d frames, want %d", len(got), len(frames))
	}
	for i, f := range got {
		if f.Timestamp != frames[i].Timestamp {
			t.Errorf("frame %d: got ts %d, want %d", i, f.Timestamp, frames[i].Timestamp)
		}
	}

	keyTimes, err := inst.KeyFrameStartTimes(ctx, base, base+1000, MediaVideo)
	if err != nil {
		t.Fatalf("KeyFrameStartTimes: %v", err)
	}
	if len(keyTimes) != 2 || keyTimes[0] != base || keyTimes[1] != base+100 {
		t.Errorf("KeyFrameStartTimes = %v, want [%d %d]", keyTimes, base, base+100)
	}

	qf, err := inst.QueryKey(ctx, base+50, MediaVideo)
	if err != nil {
		t.Fatalf("QueryKey: %v", err)
	}
	if qf.Timestamp != base+100 {
		t.Errorf("QueryKey(base+50) = ts %d, want %d", qf.Timestamp, base+100)
	}

	segs, err := inst.QuerySegments(ctx, base, base+1000)
	if err != nil {
		t.Fatalf("QuerySegments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("QuerySegments returned %d segments, want 1", len(segs))
	}

	first, ok, err := inst.FirstTs()
	if err != nil || !ok || first != base {
		t.Errorf("FirstTs() = (%d, %v, %v), want (%d, true, nil)", first, ok, err, base)
	}
	last, ok, err := inst.LastTs()
	if err != nil || !ok || last != base+133 {
		t.Errorf("LastTs() = (%d, %v, %v), want (%d, true, nil)", last, ok, err, base+133)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestWriteFrameRejectsLeadingDeltaFrame covers spec §4.4's rule that a
// GOP buffer can never start with a non-key frame of a kind it hasn't
// already seen a key frame for.
func TestWriteFrameRejectsLeadingDeltaFrame(t *testing.T) {
	ctx := context.Background()
	inst, err := openForTest(ctx, "cam2", t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer inst.Close(ctx)

	if err := inst.CreateWriteContext(NewWriteContext("h264", "", "", "")); err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	err = inst.WriteFrame(ctx, frame(1, false, MediaVideo, 16))
	if err == nil {
		t.Fatal("expected an error writing a delta frame before any key frame")
	}
}

// TestRemoveBlocksFreesRange covers spec §4.6: deleting a timestamp
// range frees the covered blocks, and a later Query no longer returns
// their frames.
func TestRemoveBlocksFreesRange(t *testing.T) {
	ctx := context.Background()
	// One GOP per ind block, and enough blocks that none is evicted, so
	// the four key frames below land in four separate blocks.
	opts := append(testOptions(t.TempDir()),
		options.WithIndEntriesPerBlock(1),
		options.WithNumBlocks(6),
	)
	inst, err := open(ctx, "cam3", logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer inst.Close(ctx)

	if err := inst.CreateWriteContext(NewWriteContext("h264", "", "", "")); err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	base := int64(5_000_000)
	for i := 0; i < 4; i++ {
		ts := base + int64(i)*1000
		if err := inst.WriteFrame(ctx, frame(ts, true, MediaVideo, 32)); err != nil {
			t.Fatalf("WriteFrame(ts=%d): %v", ts, err)
		}
	}
	if err := inst.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	n, err := inst.RemoveBlocks(ctx, base, base+1500)
	if err != nil {
		t.Fatalf("RemoveBlocks: %v", err)
	}
	if n == 0 {
		t.Error("RemoveBlocks removed 0 blocks, want at least 1")
	}

	remaining, err := inst.Query(ctx, base, base+5000, MediaVideo)
	if err != nil {
		t.Fatalf("Query after RemoveBlocks: %v", err)
	}
	for _, f := range remaining {
		if f.Timestamp < base+1500 {
			t.Errorf("Query returned frame at ts %d, should have been removed", f.Timestamp)
		}
	}
}

// TestReopenRecoversLiveSegment covers spec §4.4's open-time recovery:
// closing without Finalize still leaves a queryable, consistent file
// when reopened with FixLiveSegmentOnOpen.
func TestReopenRecoversLiveSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	inst, err := openForTest(ctx, "cam4", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := inst.CreateWriteContext(NewWriteContext("h264", "", "", "")); err != nil {
		t.Fatalf("CreateWriteContext: %v", err)
	}

	base := int64(9_000_000)
	if err := inst.WriteFrame(ctx, frame(base, true, MediaVideo, 32)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// Simulate an unclean shutdown: no Finalize, just Close.
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openForTest(ctx, "cam4", dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)

	if _, _, err := reopened.FirstTs(); err != nil {
		t.Errorf("FirstTs after reopen: %v", err)
	}
}
